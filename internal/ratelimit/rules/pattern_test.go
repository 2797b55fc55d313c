package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/users", "/api/users", true},
		{"/api/users", "/api/orders", false},
		{"/api/*/profile", "/api/42/profile", true},
		{"/api/*/profile", "/api/42/43/profile", false},
		{"/api/**", "/api/42/43/profile", true},
		{"/api/**", "/api", true},
		{"/api/**", "/other", false},
		{"/api/**/profile", "/api/a/b/c/profile", true},
		{"/api/**/profile", "/api/profile", true},
		{"/", "/", true},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+" "+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, matchPath(tc.pattern, tc.path))
		})
	}
}

func TestSpecificity(t *testing.T) {
	cases := []struct {
		pattern string
		want    int
	}{
		{"/api/users/list", 3},
		{"/api/*/profile", 1},
		{"/api/**", 1},
		{"/**", 0},
		{"*", 0},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			assert.Equal(t, tc.want, specificity(tc.pattern))
		})
	}
}
