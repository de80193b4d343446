package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labflow/lims/internal/platform/auditlog"
	"github.com/labflow/lims/internal/platform/auth"
)

var (
	ErrInvalid       = errors.New("invalid patient")
	ErrNotFound      = errors.New("patient not found")
	ErrHasReferences = errors.New("cannot delete patient with existing requests or test records")
)

var validGenders = map[string]bool{"Male": true, "Female": true}

// Transactor runs fn in one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditSink interface {
	Append(ctx context.Context, e *auditlog.Entry) error
}

// ReferenceChecker reports whether any lab request or test record points at
// the patient. It is called inside the delete transaction.
type ReferenceChecker interface {
	PatientReferenced(ctx context.Context, patientID int64) (bool, error)
}

type Service struct {
	repo  Repository
	tx    Transactor
	audit AuditSink
	refs  ReferenceChecker
}

func NewService(repo Repository, tx Transactor, audit AuditSink) *Service {
	return &Service{repo: repo, tx: tx, audit: audit}
}

// SetReferenceChecker wires the lab request side; the two services depend
// on each other, so this cannot go through NewService.
func (s *Service) SetReferenceChecker(rc ReferenceChecker) {
	s.refs = rc
}

func validate(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	switch {
	case p.FullName == "":
		return fmt.Errorf("%w: full_name is required", ErrInvalid)
	case len(p.FullName) > 100:
		return fmt.Errorf("%w: full_name must be at most 100 characters", ErrInvalid)
	case !validGenders[p.Gender]:
		return fmt.Errorf("%w: gender must be Male or Female", ErrInvalid)
	case p.Age < 0 || p.Age > 150:
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}
	if _, err := time.Parse("2006-01-02", p.BirthDate); err != nil {
		return fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalid)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, p *Patient, actor auth.Actor) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		snap, err := auditlog.Snapshot(p)
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, &auditlog.Entry{
			UserID:    actor.UserID,
			Action:    auditlog.ActionRegisterPatient,
			TableName: "patients",
			RecordID:  p.ID,
			NewValue:  snap,
			IPAddress: actor.RemoteAddr,
		})
	})
}

// Update replaces the patient's demographics. Requests and test records
// already raised keep the snapshot taken when they were created.
func (s *Service) Update(ctx context.Context, id int64, p *Patient, actor auth.Actor) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.Get(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if cur == nil || cur.Deleted {
			return ErrNotFound
		}

		before, err := auditlog.Snapshot(cur)
		if err != nil {
			return err
		}
		p.ID, p.CreatedAt = cur.ID, cur.CreatedAt
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		after, err := auditlog.Snapshot(p)
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, &auditlog.Entry{
			UserID:    actor.UserID,
			Action:    auditlog.ActionUpdatePatient,
			TableName: "patients",
			RecordID:  id,
			OldValue:  before,
			NewValue:  after,
			IPAddress: actor.RemoteAddr,
		})
	})
}

// Get returns soft-deleted patients too, so history stays readable.
func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	p, err := s.repo.Get(ctx, id, LockNone)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, strings.TrimSpace(query), limit, offset)
}

// Resolve snapshots a live patient for a new lab request. Inside a
// transaction the row is share-locked so a concurrent delete waits.
func (s *Service) Resolve(ctx context.Context, id int64) (Snapshot, error) {
	p, err := s.repo.Get(ctx, id, LockShare)
	if err != nil {
		return Snapshot{}, err
	}
	if p == nil || p.Deleted {
		return Snapshot{}, ErrNotFound
	}
	return p.Snapshot(), nil
}

func (s *Service) SoftDelete(ctx context.Context, id int64, actor auth.Actor) error {
	if s.refs == nil {
		return errors.New("patient reference checker not configured")
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if p == nil || p.Deleted {
			return ErrNotFound
		}

		referenced, err := s.refs.PatientReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return ErrHasReferences
		}

		before, err := auditlog.Snapshot(p)
		if err != nil {
			return err
		}
		if err := s.repo.MarkDeleted(ctx, id); err != nil {
			return err
		}
		return s.audit.Append(ctx, &auditlog.Entry{
			UserID:    actor.UserID,
			Action:    auditlog.ActionDeletePatient,
			TableName: "patients",
			RecordID:  id,
			OldValue:  before,
			IPAddress: actor.RemoteAddr,
		})
	})
}
