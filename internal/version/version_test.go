// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package version

import "testing"

func TestGet(t *testing.T) {
	old := [3]string{Version, GitCommit, BuildTime}
	t.Cleanup(func() { Version, GitCommit, BuildTime = old[0], old[1], old[2] })

	Version, GitCommit, BuildTime = "v1.0.0", "abc1234", "2025-01-30T12:00:00Z"
	info := Get()

	if info.Version != "v1.0.0" || info.GitCommit != "abc1234" || info.BuildTime != "2025-01-30T12:00:00Z" {
		t.Errorf("Get() = %+v", info)
	}
	want := "ocms-workflow v1.0.0 (commit abc1234, built 2025-01-30T12:00:00Z)"
	if got := info.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDefaults(t *testing.T) {
	if Version == "" || GitCommit == "" || BuildTime == "" {
		t.Errorf("defaults must not be empty: %+v", Get())
	}
}
