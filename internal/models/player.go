package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

const maxNameLength = 100

type Player struct {
	Header
	Name         string  `json:"name"`
	Nickname     *string `json:"nickname"`
	JerseyNumber *string `json:"jerseyNumber"`
	IsGoalie     bool    `json:"isGoalie"`
	Notes        *string `json:"notes"`
}

func (p *Player) Kind() Kind { return KindPlayer }

func (p *Player) Validate() error {
	return validateName("player", p.Name)
}

func (p *Player) References() []Ref { return nil }

func (p *Player) RewriteRef(Kind, string, string) bool { return false }

func (p *Player) Clone() Entity {
	c := *p
	c.Nickname = cloneStr(p.Nickname)
	c.JerseyNumber = cloneStr(p.JerseyNumber)
	c.Notes = cloneStr(p.Notes)
	return &c
}

func validateName(what, name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return fmt.Errorf("%w: %s name is required", common.ErrValidation, what)
	}
	if len(n) > maxNameLength {
		return fmt.Errorf("%w: %s name longer than %d characters", common.ErrValidation, what, maxNameLength)
	}
	return nil
}
