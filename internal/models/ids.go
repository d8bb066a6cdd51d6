package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

var tempIDPattern = regexp.MustCompile(`^(player|season|tournament|game)_\d+_[0-9a-f]{8}$`)

// NewTempID returns a locally generated identifier for a record that has not
// been confirmed by the remote store yet.
func NewTempID(k Kind) string {
	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		suffix = fmt.Sprintf("%08x", uint32(time.Now().UnixNano()))
	}
	return string(k) + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + suffix
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return tempIDPattern.MatchString(id)
}
