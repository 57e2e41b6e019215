package utils

import (
	"github.com/danthegoodman1/icetree/gologger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/segmentio/ksuid"
)

var logger = gologger.NewLogger()

// GenKSortedID is used for catalog IDs so that they sort by creation time
func GenKSortedID(prefix string) string {
	return prefix + ksuid.New().String()
}

// GenRandomShortID tags short lived operations like merges in logs
func GenRandomShortID() string {
	// no easily confused characters
	return gonanoid.MustGenerate("abcdefghikmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789", 8)
}

func Deref[T any](ref *T, fallback T) T {
	if ref == nil {
		return fallback
	}
	return *ref
}

func ArrayOrEmpty[T any](ref []T) []T {
	if ref == nil {
		return make([]T, 0)
	}
	return ref
}

func ContainsString(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}
