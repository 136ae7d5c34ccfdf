package events

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"buildledger/internal/domain"
)

// Export writes the whole log as JSON lines, zstd-compressed when compress is
// set. It returns the number of entries written.
func Export(ctx context.Context, db *sql.DB, w io.Writer, compress bool) (int64, error) {
	out := w
	var enc *zstd.Encoder
	if compress {
		var err error
		enc, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("zstd writer: %w", err)
		}
		defer enc.Close()
		out = enc
	}
	bw := bufio.NewWriter(out)
	jenc := json.NewEncoder(bw)

	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return n, err
		}
		if err := jenc.Encode(e); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	if err := bw.Flush(); err != nil {
		return n, err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return n, fmt.Errorf("zstd close: %w", err)
		}
	}
	return n, nil
}

// ReadExport parses a file produced by Export.
func ReadExport(r io.Reader, compressed bool) ([]domain.Event, error) {
	in := r
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		in = dec
	}
	var res []domain.Event
	jdec := json.NewDecoder(in)
	for {
		var e domain.Event
		err := jdec.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", len(res)+1, err)
		}
		res = append(res, e)
	}
	return res, nil
}
