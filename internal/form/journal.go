package form

import (
	"context"
	"errors"

	"github.com/loqalabs/voiceform/internal/protocol"
)

type multiJournal []Journal

// Journals fans events out to every non-nil journal.
func Journals(journals ...Journal) Journal {
	var out multiJournal
	for _, j := range journals {
		if j != nil {
			out = append(out, j)
		}
	}
	return out
}

func (m multiJournal) Record(ctx context.Context, evt protocol.FormEvent) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
