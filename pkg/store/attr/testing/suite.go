package testing

import (
	"context"
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// StoreTestSuite is a conformance suite for vfs.AttributeStore implementations.
// It tests the interface contract, not implementation details, so the memory
// and badger stores run the same cases.
//
// Usage:
//
//	func TestMyAttributeStore(t *testing.T) {
//	    suite := &attrtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) vfs.AttributeStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
//
// Values used by the suite are strings, booleans and float64 so that stores
// serializing through JSON compare equal after a round trip.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty, writable store for each test.
	// Implementations register their own cleanup on t.
	NewStore func(t *testing.T) vfs.AttributeStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("DeleteOperations", suite.RunDeleteTests)
	t.Run("MoveOperations", suite.RunMoveTests)
	t.Run("Recovery", suite.RunRecoveryTests)
	t.Run("Prune", suite.RunPruneTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// existsIn builds a Recover callback over a fixed set of paths.
func existsIn(paths ...string) func(string) (bool, error) {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(p string) (bool, error) {
		return set[p], nil
	}
}
