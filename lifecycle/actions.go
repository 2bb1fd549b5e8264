package lifecycle

import (
	"strings"
	"time"
)

// =============================================================================
// BARCODE VALIDATION
// =============================================================================

// BarcodeResult is the outcome of comparing a scanned code to the expected one.
type BarcodeResult string

const (
	BarcodeMatched  BarcodeResult = "MATCHED"
	BarcodeMismatch BarcodeResult = "MISMATCH"
)

// ValidateBarcode compares codes after trimming surrounding whitespace.
// An empty scan never matches.
func ValidateBarcode(scanned, expected string) BarcodeResult {
	s := strings.TrimSpace(scanned)
	if s == "" || s != strings.TrimSpace(expected) {
		return BarcodeMismatch
	}
	return BarcodeMatched
}

const RecordBarcodeScan RecordType = "BARCODE_SCAN"

// ScanInput is one barcode scan against an item.
type ScanInput struct {
	ItemID   ItemID
	Scanned  string
	Expected string
	Location string
	Actor    string
}

// ApplyBarcodeScan records a scan on a copy of agg. A mismatch adds
// BARCODE_MISMATCH; status never changes here.
func ApplyBarcodeScan(agg *Aggregate, in ScanInput, ids IDGenerator, at time.Time) (*Aggregate, BarcodeResult, error) {
	if _, err := agg.Item(in.ItemID); err != nil {
		return nil, "", err
	}
	result := ValidateBarcode(in.Scanned, in.Expected)

	next := agg.Clone()
	next.AppendRecord(ActionRecord{
		ID:     ids.NewID("SCN"),
		Type:   RecordBarcodeScan,
		ItemID: in.ItemID,
		Ref:    ids.NewID("SCAN"),
		Actor:  in.Actor,
		Data: map[string]string{
			"scanned":  in.Scanned,
			"expected": in.Expected,
			"location": in.Location,
			"result":   string(result),
		},
		RecordedAt: at,
	})
	if result == BarcodeMismatch {
		next.AddException(ExceptionBarcodeMismatch)
	}
	return next, result, nil
}
