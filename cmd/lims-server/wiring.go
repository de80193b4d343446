package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"

	"github.com/labflow/lims/internal/domain/labrequest"
	"github.com/labflow/lims/internal/domain/patient"
	"github.com/labflow/lims/internal/platform/db"
)

type patientSource interface {
	Resolve(ctx context.Context, id int64) (patient.Snapshot, error)
}

// patientResolver hands the lifecycle engine demographics from the
// patient registry.
type patientResolver struct {
	src patientSource
}

func (r patientResolver) Resolve(ctx context.Context, id int64) (labrequest.PatientSnapshot, error) {
	snap, err := r.src.Resolve(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return labrequest.PatientSnapshot{}, labrequest.ErrPatientNotFound
	}
	if err != nil {
		return labrequest.PatientSnapshot{}, err
	}
	return labrequest.PatientSnapshot(snap), nil
}

type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

func redisCheck(p pinger) db.Check {
	return db.Check{
		Name: "redis",
		Ping: func(ctx context.Context) error { return p.Ping(ctx).Err() },
	}
}

func printCatalog(w io.Writer, c *labrequest.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tSECTION\tPARAMETERS")
	for _, t := range c.Tests {
		section := t.Section
		if section == "" {
			section = c.SectionFor(t.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, section, strings.Join(t.Parameters, ", "))
	}
	tw.Flush()
}
