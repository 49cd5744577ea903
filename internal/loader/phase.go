package loader

import (
	"fmt"
	"strings"
)

// Phase is one step of the load pipeline. Phases run in declaration order;
// BackingUp only runs for full loads of a non-empty table.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseConnecting
	PhaseReading
	PhaseSchemaPrep
	PhaseStaging
	PhaseValidating
	PhaseBackingUp
	PhaseTransferring
	PhaseFinalizing
)

var phaseNames = [...]string{
	PhaseInitializing: "INITIALIZING",
	PhaseConnecting:   "CONNECTING",
	PhaseReading:      "READING",
	PhaseSchemaPrep:   "SCHEMA PREP",
	PhaseStaging:      "STAGING",
	PhaseValidating:   "VALIDATING",
	PhaseBackingUp:    "BACKING UP",
	PhaseTransferring: "TRANSFERRING",
	PhaseFinalizing:   "FINALIZING",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Mode selects how a load treats rows already in the target table.
type Mode string

const (
	// ModeAppend adds rows to the table.
	ModeAppend Mode = "append"
	// ModeFull replaces the table contents, backing up existing rows first.
	ModeFull Mode = "full"
)

// ParseMode parses a mode name. Empty input yields ModeAppend.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeAppend):
		return ModeAppend, nil
	case string(ModeFull):
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown load mode %q (want full or append)", s)
}
