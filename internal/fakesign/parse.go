package fakesign

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Program type identifiers embedded in the container header.
const (
	PTypeFake         uint32 = 1
	PTypeNPDRMExec    uint32 = 4
	PTypeNPDRMDynlib  uint32 = 5
	PTypeSystemExec   uint32 = 8
	PTypeSystemDynlib uint32 = 9
)

// PAID presets matching the program-type variants.
const (
	DefaultPAID uint64 = 0x3100000000000002
	SystemPAID  uint64 = 0x3200000000000001
	NPDRMPAID   uint64 = 0x3300000000000003
)

// ErrUnknownProgramType is returned for names outside the closed table.
var ErrUnknownProgramType = errors.New("unknown program type")

// programTypes is the closed symbolic-name table owned by the signer.
var programTypes = map[string]uint32{
	"fake":          PTypeFake,
	"npdrm_exec":    PTypeNPDRMExec,
	"npdrm_dynlib":  PTypeNPDRMDynlib,
	"system_exec":   PTypeSystemExec,
	"system_dynlib": PTypeSystemDynlib,
}

// ParseProgramType resolves a symbolic program-type name.
func ParseProgramType(name string) (uint32, error) {
	ptype, ok := programTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProgramType, name)
	}
	return ptype, nil
}

// ParsePType accepts a hex string (0x-prefixed), a decimal string, or a
// symbolic program-type name.
func ParsePType(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if v, err := parseUint(s, 32); err == nil {
		return uint32(v), nil
	}
	return ParseProgramType(s)
}

// ParsePAID accepts a hex string (0x-prefixed) or a decimal string and
// returns the 64-bit program authentication identifier.
func ParsePAID(s string) (uint64, error) {
	v, err := parseUint(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid PAID %q: %w", s, err)
	}
	return v, nil
}

func parseUint(s string, bits int) (uint64, error) {
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(rest, 16, bits)
	}
	return strconv.ParseUint(s, 10, bits)
}
