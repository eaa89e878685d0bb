package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVAppSetGet(t *testing.T) {
	app := newKVApp()

	require.Equal(t, []byte("ok"), app.Execute([]byte("SET foo bar")))
	require.Equal(t, []byte("bar"), app.Execute([]byte("GET foo")))
}

func TestKVAppGetMissing(t *testing.T) {
	app := newKVApp()
	require.Equal(t, []byte(""), app.Execute([]byte("GET missing")))
}

func TestKVAppRejectsMalformedOps(t *testing.T) {
	app := newKVApp()
	require.Contains(t, string(app.Execute([]byte(""))), "error")
	require.Contains(t, string(app.Execute([]byte("SET onlykey"))), "error")
	require.Contains(t, string(app.Execute([]byte("DELETE foo"))), "error")
}
