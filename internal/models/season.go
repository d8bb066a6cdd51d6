package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

const dateLayout = "2006-01-02"

type Season struct {
	Header
	Name             string   `json:"name"`
	Location         *string  `json:"location"`
	StartDate        *string  `json:"startDate"`
	EndDate          *string  `json:"endDate"`
	DefaultRosterIDs []string `json:"defaultRosterIds"`
	Archived         bool     `json:"archived"`
	Notes            *string  `json:"notes"`
}

func (s *Season) Kind() Kind { return KindSeason }

func (s *Season) Validate() error {
	if err := validateName("season", s.Name); err != nil {
		return err
	}
	return validateDateRange(s.StartDate, s.EndDate)
}

func (s *Season) References() []Ref {
	return refsOf(KindPlayer, s.DefaultRosterIDs)
}

func (s *Season) RewriteRef(kind Kind, oldID, newID string) bool {
	if kind != KindPlayer {
		return false
	}
	return rewriteSlice(s.DefaultRosterIDs, oldID, newID)
}

func (s *Season) Clone() Entity {
	c := *s
	c.Location = cloneStr(s.Location)
	c.StartDate = cloneStr(s.StartDate)
	c.EndDate = cloneStr(s.EndDate)
	c.DefaultRosterIDs = cloneStrings(s.DefaultRosterIDs)
	c.Notes = cloneStr(s.Notes)
	return &c
}

func validateDateRange(start, end *string) error {
	var from, to time.Time
	var err error
	if start != nil {
		if from, err = time.Parse(dateLayout, *start); err != nil {
			return fmt.Errorf("%w: start date %q is not YYYY-MM-DD", common.ErrValidation, *start)
		}
	}
	if end != nil {
		if to, err = time.Parse(dateLayout, *end); err != nil {
			return fmt.Errorf("%w: end date %q is not YYYY-MM-DD", common.ErrValidation, *end)
		}
	}
	if start != nil && end != nil && to.Before(from) {
		return fmt.Errorf("%w: end date before start date", common.ErrValidation)
	}
	return nil
}
