package models

type Tournament struct {
	Header
	Name             string   `json:"name"`
	Location         *string  `json:"location"`
	Level            *string  `json:"level"`
	StartDate        *string  `json:"startDate"`
	EndDate          *string  `json:"endDate"`
	SeasonID         *string  `json:"seasonId"`
	DefaultRosterIDs []string `json:"defaultRosterIds"`
	Archived         bool     `json:"archived"`
	Notes            *string  `json:"notes"`
}

func (t *Tournament) Kind() Kind { return KindTournament }

func (t *Tournament) Validate() error {
	if err := validateName("tournament", t.Name); err != nil {
		return err
	}
	return validateDateRange(t.StartDate, t.EndDate)
}

func (t *Tournament) References() []Ref {
	return append(refIfSet(KindSeason, t.SeasonID), refsOf(KindPlayer, t.DefaultRosterIDs)...)
}

func (t *Tournament) RewriteRef(kind Kind, oldID, newID string) bool {
	switch kind {
	case KindSeason:
		return rewritePtr(t.SeasonID, oldID, newID)
	case KindPlayer:
		return rewriteSlice(t.DefaultRosterIDs, oldID, newID)
	}
	return false
}

func (t *Tournament) Clone() Entity {
	c := *t
	c.Location = cloneStr(t.Location)
	c.Level = cloneStr(t.Level)
	c.StartDate = cloneStr(t.StartDate)
	c.EndDate = cloneStr(t.EndDate)
	c.SeasonID = cloneStr(t.SeasonID)
	c.DefaultRosterIDs = cloneStrings(t.DefaultRosterIDs)
	c.Notes = cloneStr(t.Notes)
	return &c
}
