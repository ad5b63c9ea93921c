package layer

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// XML descriptors nest folders and files under a <filesystem> root:
//
//	<filesystem>
//	  <folder name="Editors">
//	    <attr name="position" intvalue="100"/>
//	    <file name="text.settings" url="settings/text.xml"/>
//	    <file name="inline.txt"><![CDATA[inline content]]></file>
//	    <file name="legacy.txt" hidden="true"/>
//	  </folder>
//	</filesystem>
//
// Attribute values are typed by the attribute used: stringvalue, intvalue,
// boolvalue or floatvalue. A url is resolved relative to the descriptor's
// directory. hidden="true" emits a mask record.

type xmlFilesystem struct {
	XMLName xml.Name    `xml:"filesystem"`
	Folders []xmlFolder `xml:"folder"`
	Files   []xmlFile   `xml:"file"`
	Attrs   []xmlAttr   `xml:"attr"`
}

type xmlFolder struct {
	Name    string      `xml:"name,attr"`
	Hidden  bool        `xml:"hidden,attr"`
	Attrs   []xmlAttr   `xml:"attr"`
	Folders []xmlFolder `xml:"folder"`
	Files   []xmlFile   `xml:"file"`
}

type xmlFile struct {
	Name    string    `xml:"name,attr"`
	URL     string    `xml:"url,attr"`
	Hidden  bool      `xml:"hidden,attr"`
	Attrs   []xmlAttr `xml:"attr"`
	Content string    `xml:",chardata"`
}

type xmlAttr struct {
	Name        string  `xml:"name,attr"`
	StringValue *string `xml:"stringvalue,attr"`
	IntValue    *string `xml:"intvalue,attr"`
	BoolValue   *string `xml:"boolvalue,attr"`
	FloatValue  *string `xml:"floatvalue,attr"`
}

// ParseXML decodes an XML descriptor. baseDir resolves url attributes; with an
// empty baseDir url attributes are rejected.
func ParseXML(data []byte, baseDir string) ([]Record, error) {
	var doc xmlFilesystem
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse layer XML: %w", err)
	}

	p := xmlParser{baseDir: baseDir}
	if len(doc.Attrs) > 0 {
		attrs, err := p.attrs(vfs.Root, doc.Attrs)
		if err != nil {
			return nil, err
		}
		p.out = append(p.out, Record{Path: vfs.Root, Kind: RecordFolder, Attributes: attrs})
	}
	if err := p.children(vfs.Root, doc.Folders, doc.Files); err != nil {
		return nil, err
	}
	return p.out, nil
}

type xmlParser struct {
	baseDir string
	out     []Record
}

func (p *xmlParser) children(parent string, folders []xmlFolder, files []xmlFile) error {
	for _, f := range folders {
		if err := p.folder(parent, f); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := p.file(parent, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *xmlParser) folder(parent string, f xmlFolder) error {
	if err := vfs.ValidateName(f.Name); err != nil {
		return err
	}
	path := vfs.Join(parent, f.Name)
	if f.Hidden {
		p.out = append(p.out, Record{Path: path, Kind: RecordMask})
		return nil
	}

	attrs, err := p.attrs(path, f.Attrs)
	if err != nil {
		return err
	}
	p.out = append(p.out, Record{Path: path, Kind: RecordFolder, Attributes: attrs})
	return p.children(path, f.Folders, f.Files)
}

func (p *xmlParser) file(parent string, f xmlFile) error {
	if err := vfs.ValidateName(f.Name); err != nil {
		return err
	}
	path := vfs.Join(parent, f.Name)
	if f.Hidden {
		p.out = append(p.out, Record{Path: path, Kind: RecordMask})
		return nil
	}

	attrs, err := p.attrs(path, f.Attrs)
	if err != nil {
		return err
	}

	var content []byte
	switch {
	case f.URL != "":
		content, err = p.load(path, f.URL)
		if err != nil {
			return err
		}
	case strings.TrimSpace(f.Content) != "":
		content = []byte(f.Content)
	}

	p.out = append(p.out, Record{Path: path, Kind: RecordData, Attributes: attrs, Content: content})
	return nil
}

func (p *xmlParser) load(path, url string) ([]byte, error) {
	if p.baseDir == "" {
		return nil, vfs.NewError(vfs.ErrInvalidArgument, path, "url %q needs a descriptor file location", url)
	}
	if filepath.IsAbs(url) || strings.HasPrefix(filepath.Clean(url), "..") {
		return nil, vfs.NewError(vfs.ErrInvalidArgument, path, "url %q must stay below the descriptor directory", url)
	}
	data, err := os.ReadFile(filepath.Join(p.baseDir, filepath.FromSlash(url)))
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, path, err)
	}
	return data, nil
}

func (p *xmlParser) attrs(path string, in []xmlAttr) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for _, a := range in {
		v, err := a.value()
		if err != nil {
			return nil, vfs.NewError(vfs.ErrInvalidArgument, path, "attribute %q: %v", a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

func (a xmlAttr) value() (any, error) {
	switch {
	case a.Name == "":
		return nil, fmt.Errorf("missing name")
	case a.StringValue != nil:
		return *a.StringValue, nil
	case a.IntValue != nil:
		return strconv.ParseInt(*a.IntValue, 10, 64)
	case a.BoolValue != nil:
		return strconv.ParseBool(*a.BoolValue)
	case a.FloatValue != nil:
		return strconv.ParseFloat(*a.FloatValue, 64)
	default:
		return nil, fmt.Errorf("no value")
	}
}
