package report

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/pkg/errors"
)

// WriteCSV writes rows, a slice of csv-tagged structs, with a header line.
func WriteCSV(w io.Writer, rows interface{}) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.Encode(rows); err != nil {
		return errors.Wrap(err, "encode csv")
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// ReadDurations decodes a stop duration export
func ReadDurations(r io.Reader) ([]StopDuration, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	var rows []StopDuration
	if err := dec.Decode(&rows); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode stop durations")
	}
	return rows, nil
}
