package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/loykin/jobsup/internal/store"

	"github.com/loykin/jobsup"
)

// command binds CLI handlers to a running Supervisor instance.
type command struct {
	sup *jobsup.Supervisor
}

func (c command) Run(f RunFlags) error {
	if f.JobID == "" {
		return fmt.Errorf("--id is required")
	}
	if f.Command == "" {
		return fmt.Errorf("a command is required after --")
	}
	rec, err := c.sup.Run(context.Background(), f.Command, f.JobID, f.Cwd)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func (c command) Stop(f StopFlags) error {
	rec, err := c.sup.Stop(context.Background(), f.JobID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("job %q not found", f.JobID)
	}
	printRecord(*rec)
	return nil
}

func (c command) Status(f StatusFlags) error {
	rec, ok, err := c.sup.GetStatus(context.Background(), f.JobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %q not found", f.JobID)
	}
	printRecord(rec)
	return nil
}

func (c command) List(f ListFlags) error {
	filter := store.JobFilter{}
	if f.Status != "" {
		filter.Status = store.Status(f.Status)
	}
	recs, err := c.sup.ListStatus(context.Background(), filter)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printRecord(recs[id])
	}
	return nil
}

func (c command) Logs(f LogsFlags) error {
	stdout, stderr, err := c.sup.JobLogs(context.Background(), f.JobID)
	if err != nil {
		return err
	}
	if f.Stderr {
		_, _ = fmt.Fprint(os.Stdout, stderr)
	} else {
		_, _ = fmt.Fprint(os.Stdout, stdout)
	}
	return nil
}

func printRecord(rec jobsup.JobRecord) {
	fields := []string{
		"job_id=" + rec.JobID,
		"status=" + string(rec.Status),
	}
	if rec.LastPID > 0 {
		fields = append(fields, fmt.Sprintf("pid=%d", rec.LastPID))
	}
	fields = append(fields, "command="+strconvQuote(rec.Command))
	fmt.Println(strings.Join(fields, " "))
}

func strconvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
