// Package extraction tracks long-running extraction jobs. A job is started
// with a synchronous command to the external worker, but its real output is
// written asynchronously to the shared store, so terminal success is only
// ever reached through the completion watcher observing that output appear.
package extraction

import (
	"errors"
	"time"

	"github.com/quartershq/quarters/internal/store"
)

// Type is an extraction kind. One job exists per (Type, entity id).
type Type string

const (
	TypeImageSet     Type = "image-set"
	TypeAmenitySet   Type = "amenity-set"
	TypeFloorPlanSet Type = "floor-plan-set"
	TypeBrandProfile Type = "brand-profile"
	TypeOfferSet     Type = "offer-set"
	TypeReviewSet    Type = "review-set"
	TypeCompetitorSet Type = "competitor-set"
)

// Types lists every extraction kind, in display order.
var Types = []Type{
	TypeImageSet,
	TypeAmenitySet,
	TypeFloorPlanSet,
	TypeBrandProfile,
	TypeOfferSet,
	TypeReviewSet,
	TypeCompetitorSet,
}

// ErrUnknownType is returned for a type string outside the enum.
var ErrUnknownType = errors.New("unknown extraction type")

// ParseType validates a type string from the API surface.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrUnknownType
}

// Table returns the store table the worker writes this type's output to.
func (t Type) Table() string {
	switch t {
	case TypeImageSet:
		return store.TablePropertyImages
	case TypeAmenitySet:
		return store.TableAmenities
	case TypeFloorPlanSet:
		return store.TableFloorPlans
	case TypeBrandProfile:
		return store.TableBrandProfiles
	case TypeOfferSet:
		return store.TableOffers
	case TypeReviewSet:
		return store.TableReviews
	case TypeCompetitorSet:
		return store.TableCompetitors
	}
	return ""
}

// successMessage is the user-facing message set when a job completes.
func (t Type) successMessage() string {
	switch t {
	case TypeImageSet:
		return "Images extracted"
	case TypeAmenitySet:
		return "Amenities extracted"
	case TypeFloorPlanSet:
		return "Floor plans extracted"
	case TypeBrandProfile:
		return "Brand profile generated"
	case TypeOfferSet:
		return "Offers extracted"
	case TypeReviewSet:
		return "Reviews extracted"
	case TypeCompetitorSet:
		return "Competitors extracted"
	}
	return "Extraction complete"
}

// Predicate answers "has this job's expected output appeared?" over freshly
// fetched rows. Predicates must be pure: no I/O, no stored state.
type Predicate func(rows []store.Row) bool

// NewPredicate builds the completion predicate for a job started at the
// given time. For row-set types the output is present once any row was
// created or updated at/after the start; rows carrying no timestamps count
// by presence alone. The brand profile is a single row and completes when
// its summary has been filled in since the start.
func (t Type) NewPredicate(since time.Time) Predicate {
	if t == TypeBrandProfile {
		return func(rows []store.Row) bool {
			for _, row := range rows {
				if row.String("summary") != "" && touchedSince(row, since) {
					return true
				}
			}
			return false
		}
	}
	return func(rows []store.Row) bool {
		for _, row := range rows {
			if touchedSince(row, since) {
				return true
			}
		}
		return false
	}
}

func touchedSince(row store.Row, since time.Time) bool {
	created := row.Time("created_at")
	updated := row.Time("updated_at")
	if created.IsZero() && updated.IsZero() {
		return true
	}
	return !created.Before(since) || !updated.Before(since)
}

// State is the job lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
)
