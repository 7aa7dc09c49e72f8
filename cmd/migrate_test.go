package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- orders
CREATE TABLE a (id INT);

-- comment only;
CREATE TABLE b (
  id INT -- trailing
);
`
	got := splitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE TABLE b (\n  id INT -- trailing\n)",
	}, got)
}
