package models

import (
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

const DefaultLanguage = "en"

type AppSettings struct {
	Header
	Language          string  `json:"language"`
	DefaultTeamName   *string `json:"defaultTeamName"`
	CurrentGameID     *string `json:"currentGameId"`
	AutoBackupEnabled bool    `json:"autoBackupEnabled"`
	HasSeenAppGuide   bool    `json:"hasSeenAppGuide"`
}

// DefaultSettings is what an owner gets before saving anything.
func DefaultSettings() *AppSettings {
	return &AppSettings{Header: Header{ID: SettingsID}, Language: DefaultLanguage}
}

func (s *AppSettings) Kind() Kind { return KindSettings }

func (s *AppSettings) Validate() error {
	if s.Language == "" {
		return fmt.Errorf("%w: settings language is required", common.ErrValidation)
	}
	return nil
}

func (s *AppSettings) References() []Ref {
	return refIfSet(KindGame, s.CurrentGameID)
}

func (s *AppSettings) RewriteRef(kind Kind, oldID, newID string) bool {
	if kind != KindGame {
		return false
	}
	return rewritePtr(s.CurrentGameID, oldID, newID)
}

func (s *AppSettings) Clone() Entity {
	c := *s
	c.DefaultTeamName = cloneStr(s.DefaultTeamName)
	c.CurrentGameID = cloneStr(s.CurrentGameID)
	return &c
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
// ClearCurrentGame unsets CurrentGameID.
type SettingsPatch struct {
	Language          *string
	DefaultTeamName   *string
	CurrentGameID     *string
	ClearCurrentGame  bool
	AutoBackupEnabled *bool
	HasSeenAppGuide   *bool
}

// Apply returns a copy of s with the patch applied.
func (p SettingsPatch) Apply(s *AppSettings) *AppSettings {
	out := s.Clone().(*AppSettings)
	if p.Language != nil {
		out.Language = *p.Language
	}
	if p.DefaultTeamName != nil {
		out.DefaultTeamName = cloneStr(p.DefaultTeamName)
	}
	if p.CurrentGameID != nil {
		out.CurrentGameID = cloneStr(p.CurrentGameID)
	}
	if p.ClearCurrentGame {
		out.CurrentGameID = nil
	}
	if p.AutoBackupEnabled != nil {
		out.AutoBackupEnabled = *p.AutoBackupEnabled
	}
	if p.HasSeenAppGuide != nil {
		out.HasSeenAppGuide = *p.HasSeenAppGuide
	}
	return out
}
