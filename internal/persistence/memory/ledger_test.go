package memory

import (
	"testing"

	"github.com/sawpanic/postlaunch/internal/persistence"
	"github.com/sawpanic/postlaunch/internal/persistence/ledgertest"
)

func TestLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) persistence.Ledger {
		return NewLedger()
	})
}
