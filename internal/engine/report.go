package engine

import (
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// FlushReport summarises one flush.
type FlushReport struct {
	Kind       string
	Received   int // actions in the batch
	Superseded int // actions replaced by a later one for the same key
	Created    int // rows actually inserted
	Duplicates int // creates that hit a unique constraint
	Deleted    int // rows actually deleted
	Dropped    int // actions lost to a failed bulk operation or invalid input
	Notified   int
	Err        error
}

func (r *FlushReport) addErr(err error) {
	if err == nil {
		return
	}
	r.Err = multierror.Append(r.Err, err)
}

// Outcome is "ok" when no bulk operation failed, "error" otherwise.
func (r FlushReport) Outcome() string {
	if r.Err != nil {
		return "error"
	}
	return "ok"
}

// Fields renders the report counts for structured logging.
func (r FlushReport) Fields() logrus.Fields {
	return logrus.Fields{
		"kind":       r.Kind,
		"received":   r.Received,
		"superseded": r.Superseded,
		"created":    r.Created,
		"duplicates": r.Duplicates,
		"deleted":    r.Deleted,
		"dropped":    r.Dropped,
		"notified":   r.Notified,
	}
}
