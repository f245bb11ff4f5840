package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Header is the first row of every CSV output.
var Header = []string{"set_ID_x", "set_ID_y", "set_size_x", "set_size_y", "similarity"}

// CSV writes records as comma-separated rows after a header row.
type CSV struct {
	out io.WriteCloser
	w   *csv.Writer
	row []string
}

// NewCSV writes the header to out and returns the sink. Closing the sink
// closes out.
func NewCSV(out io.WriteCloser) (*CSV, error) {
	w := csv.NewWriter(out)
	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	return &CSV{out: out, w: w, row: make([]string, len(Header))}, nil
}

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Write(_ context.Context, r Record) error {
	c.row[0] = r.XID
	c.row[1] = r.YID
	c.row[2] = strconv.Itoa(r.XSize)
	c.row[3] = strconv.Itoa(r.YSize)
	c.row[4] = strconv.FormatFloat(r.Similarity, 'g', -1, 64)
	if err := c.w.Write(c.row); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}
	return nil
}

func (c *CSV) Flush(context.Context) error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.out.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	return c.out.Close()
}
