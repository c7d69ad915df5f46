// Package results persists the best grasp found per object.
package results

import (
	"context"
	"path/filepath"
	"strings"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"go.uber.org/multierr"
)

// Sink stores the grasps of one run.
type Sink interface {
	Store(ctx context.Context, runID string, grasps []datastructures.ObjectGrasp) error
	Close() error
}

// Key names a grasp record by input file stem and object, e.g. "0/mug".
func Key(g datastructures.ObjectGrasp) string {
	if g.Input == "" {
		return g.Object
	}
	stem := strings.TrimSuffix(filepath.Base(g.Input), filepath.Ext(g.Input))
	return stem + "/" + g.Object
}

// Multi fans out to several sinks. Every sink is tried, errors are combined.
type Multi []Sink

func (m Multi) Store(ctx context.Context, runID string, grasps []datastructures.ObjectGrasp) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Store(ctx, runID, grasps))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
