package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"efileflow/internal/domain"
	"efileflow/internal/report"
)

func TestBuildAndWriteExcel(t *testing.T) {
	started := "2024-01-01T09:00:00Z"
	entries := []domain.TATEntry{
		{FileNumber: "EF/1", Subject: "Bridge", CreatorID: "c1", CurrentAssignedTo: "se1", CurrentState: domain.StateExternal, TATStarted: true, TATStartedAt: &started},
		{FileNumber: "EF/2", Subject: "Road", CreatorID: "c1", CurrentAssignedTo: "t1", CurrentState: domain.StateTeamInternal},
	}
	rows := report.Build(entries, time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC))
	if rows[0].ElapsedDays != 3 || rows[1].ElapsedDays != -1 {
		t.Fatalf("unexpected elapsed days %d %d", rows[0].ElapsedDays, rows[1].ElapsedDays)
	}

	var buf bytes.Buffer
	if err := report.WriteExcel(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, err := f.GetRows("TAT Register")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(got))
	}
	if got[0][0] != "File Number" || got[1][0] != "EF/1" || got[1][4] != "EXTERNAL" || got[1][7] != "3" {
		t.Fatalf("unexpected sheet content %v", got)
	}
}
