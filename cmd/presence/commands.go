package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"presence/internal/calendar"
	"presence/internal/model"
	"presence/internal/outbox"
	"presence/internal/stats"
)

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) table() *tabwriter.Writer {
	return tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
}

// ---------- classes ----------

func (cli *commandLine) classes(ctx context.Context) error {
	settings, err := cli.api.Settings(ctx)
	if err != nil {
		return err
	}
	tw := cli.table()
	fmt.Fprintln(tw, "CLASS\tLABEL\tHOURS")
	for _, id := range model.Classes {
		info := model.ClassInfos[id]
		fmt.Fprintf(tw, "%s\t%s\t%s-%s\n", info.ID, info.Label, info.Start, info.End)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if start, end := settings[model.SettingFormationStart], settings[model.SettingFormationEnd]; start != "" || end != "" {
		fmt.Fprintf(cli.out, "formation overrides: start=%q end=%q\n", start, end)
	}
	return nil
}

// ---------- students ----------

func (cli *commandLine) students(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}
	switch args[0] {
	case "list":
		return cli.listStudents(ctx, args[1:])
	case "add":
		return cli.addStudent(ctx, args[1:])
	case "update":
		return cli.updateStudent(ctx, args[1:])
	case "delete":
		return cli.deleteStudent(ctx, args[1:])
	case "import":
		return cli.importStudents(ctx, args[1:])
	}
	cli.printUsage()
	return errHelp
}

func (cli *commandLine) listStudents(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("students list")
	class := fs.String("class", "", "Only this session (morning or afternoon).")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	classID, err := parseClass(*class, false)
	if err != nil {
		return err
	}

	students, err := cli.api.ListStudents(ctx)
	if err != nil {
		return err
	}
	tw := cli.table()
	fmt.Fprintln(tw, "ID\tLAST NAME\tFIRST NAME\tCLASS")
	for _, s := range students {
		if classID != "" && s.ClassID != classID {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.LastName, s.FirstName, s.ClassID.Label())
	}
	for _, it := range cli.queue.Pending(ctx) {
		var p outbox.AddStudentPayload
		if it.Type != outbox.AddStudent || it.Decode(&p) != nil {
			continue
		}
		if classID != "" && p.ClassID != classID {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s (pending sync)\n", p.LocalID, p.LastName, p.FirstName, p.ClassID.Label())
	}
	return tw.Flush()
}

func (cli *commandLine) addStudent(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("students add")
	first := fs.String("first", "", "First name.")
	last := fs.String("last", "", "Last name.")
	class := fs.String("class", "", "morning or afternoon.")
	offline := fs.Bool("offline", false, "Queue without contacting the API.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	ns := model.NewStudent{FirstName: strings.TrimSpace(*first), LastName: strings.TrimSpace(*last)}
	if ns.FirstName == "" || ns.LastName == "" {
		fs.Usage()
		return errHelp
	}
	classID, err := parseClass(*class, true)
	if err != nil {
		return err
	}
	ns.ClassID = classID

	payload := outbox.AddStudentPayload{LocalID: outbox.NewLocalID(), NewStudent: ns}
	return cli.mutate(ctx, *offline, outbox.AddStudent, payload, func(ctx context.Context) error {
		s, err := cli.api.CreateStudent(ctx, ns)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "added %s %s (%s)\n", s.FirstName, s.LastName, s.ID)
		return nil
	})
}

func (cli *commandLine) updateStudent(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("students update")
	id := fs.String("id", "", "Student id.")
	first := fs.String("first", "", "New first name.")
	last := fs.String("last", "", "New last name.")
	class := fs.String("class", "", "New session.")
	offline := fs.Bool("offline", false, "Queue without contacting the API.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if *id == "" {
		fs.Usage()
		return errHelp
	}

	var upd model.StudentUpdate
	if v := strings.TrimSpace(*first); v != "" {
		upd.FirstName = &v
	}
	if v := strings.TrimSpace(*last); v != "" {
		upd.LastName = &v
	}
	if *class != "" {
		classID, err := parseClass(*class, true)
		if err != nil {
			return err
		}
		upd.ClassID = &classID
	}
	if upd.Empty() {
		return errors.New("nothing to update")
	}

	queueOnly, err := cli.pendingOnly(ctx, *id)
	if err != nil {
		return err
	}
	payload := outbox.UpdateStudentPayload{ID: *id, StudentUpdate: upd}
	return cli.mutate(ctx, *offline || queueOnly, outbox.UpdateStudent, payload, func(ctx context.Context) error {
		s, err := cli.api.UpdateStudent(ctx, *id, upd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "updated %s %s (%s)\n", s.FirstName, s.LastName, s.ClassID.Label())
		return nil
	})
}

func (cli *commandLine) deleteStudent(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("students delete")
	id := fs.String("id", "", "Student id.")
	offline := fs.Bool("offline", false, "Queue without contacting the API.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if *id == "" {
		fs.Usage()
		return errHelp
	}

	queueOnly, err := cli.pendingOnly(ctx, *id)
	if err != nil {
		return err
	}
	return cli.mutate(ctx, *offline || queueOnly, outbox.DeleteStudent, outbox.DeleteStudentPayload{ID: *id}, func(ctx context.Context) error {
		if err := cli.api.DeleteStudent(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "deleted %s\n", *id)
		return nil
	})
}

func (cli *commandLine) importStudents(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("students import")
	file := fs.String("file", "", "Spreadsheet with Nom, Prénom and Classe columns.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if *file == "" {
		fs.Usage()
		return errHelp
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	sum, err := cli.api.ImportStudents(ctx, filepath.Base(*file), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "added %d, skipped %d, failed %d\n", sum.Added, sum.Skipped, sum.Failed)
	return nil
}

// pendingOnly reports whether ids include placeholders that only exist in
// the outbox. Such changes must be queued behind the ADD_STUDENT they refer
// to. A placeholder no longer in the outbox has already been replayed.
func (cli *commandLine) pendingOnly(ctx context.Context, ids ...string) (bool, error) {
	var local []string
	for _, id := range ids {
		if outbox.IsLocalID(id) {
			local = append(local, id)
		}
	}
	if len(local) == 0 {
		return false, nil
	}
	queued := make(map[string]bool)
	for _, it := range cli.queue.Pending(ctx) {
		if l := it.LocalID(); l != "" {
			queued[l] = true
		}
	}
	for _, id := range local {
		if !queued[id] {
			return false, fmt.Errorf("%s has already been synced, use its new id (see `students list`)", id)
		}
	}
	return true, nil
}

// ---------- attendance ----------

func (cli *commandLine) mark(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("mark")
	date := fs.String("date", "", "Day as YYYY-MM-DD. Defaults to today.")
	class := fs.String("class", "", "morning or afternoon.")
	present := fs.String("present", "", "Comma separated ids of present students, each optionally suffixed with @HH:mm.")
	offline := fs.Bool("offline", false, "Queue without contacting the API.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	classID, err := parseClass(*class, true)
	if err != nil {
		return err
	}

	day := model.DaySave{Date: *date, ClassID: classID}
	if day.Date == "" {
		day.Date = calendar.FormatDate(cli.now())
	}
	if _, err := calendar.ParseDate(day.Date); err != nil {
		return err
	}
	if day.Present, err = parsePresent(*present); err != nil {
		return err
	}

	ids := make([]string, 0, len(day.Present))
	for _, p := range day.Present {
		ids = append(ids, p.StudentID)
	}
	queueOnly, err := cli.pendingOnly(ctx, ids...)
	if err != nil {
		return err
	}
	return cli.mutate(ctx, *offline || queueOnly, outbox.Attendance, day, func(ctx context.Context) error {
		records, err := cli.api.SaveAttendance(ctx, day)
		if err != nil {
			return err
		}
		var n int
		for _, r := range records {
			if r.Present {
				n++
			}
		}
		fmt.Fprintf(cli.out, "%s %s: %d present of %d\n", day.Date, classID.Label(), n, len(records))
		return nil
	})
}

// parsePresent reads "id1,id2@08:40" into present students.
func parsePresent(v string) ([]model.PresentStudent, error) {
	var out []model.PresentStudent
	seen := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, at, _ := strings.Cut(part, "@")
		if seen[id] {
			continue
		}
		seen[id] = true
		ps := model.PresentStudent{StudentID: id}
		if at != "" {
			hhmm, err := calendar.ParseArrivalTime(at)
			if err != nil {
				return nil, err
			}
			ps.ArrivalTime = hhmm
		}
		out = append(out, ps)
	}
	return out, nil
}

func (cli *commandLine) records(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("records")
	date := fs.String("date", "", "Only this day (YYYY-MM-DD).")
	class := fs.String("class", "", "Only this session.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	classID, err := parseClass(*class, false)
	if err != nil {
		return err
	}

	records, err := cli.api.ListRecords(ctx)
	if err != nil {
		return err
	}
	tw := cli.table()
	fmt.Fprintln(tw, "DATE\tCLASS\tSTUDENT\tPRESENT\tARRIVAL")
	for _, r := range records {
		if (*date != "" && r.Date != *date) || (classID != "" && r.ClassID != classID) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.Date, r.ClassID, r.StudentID, r.Present, r.ArrivalTime)
	}
	return tw.Flush()
}

// ---------- stats ----------

func (cli *commandLine) stats(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}
	switch args[0] {
	case "global":
		g, err := cli.api.GlobalStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "days elapsed: %d of %d\n", g.ElapsedDays, g.TotalDays)
		fmt.Fprintf(cli.out, "students: %d (morning %d, afternoon %d)\n", g.TotalStudents, g.MorningStudents, g.AfternoonStudents)
		fmt.Fprintf(cli.out, "morning: %.1f%% present, %.1f%% absent\n", g.Morning.AveragePresenceRate, g.Morning.AverageAbsenteeismRate)
		fmt.Fprintf(cli.out, "afternoon: %.1f%% present, %.1f%% absent\n", g.Afternoon.AveragePresenceRate, g.Afternoon.AverageAbsenteeismRate)
		fmt.Fprintf(cli.out, "overall: %.1f%% present, %.1f%% absent\n", g.GlobalPresenceRate, g.GlobalAbsenteeismRate)
		return nil

	case "class":
		classID, err := classArg(args[1:])
		if err != nil {
			return err
		}
		cs, err := cli.api.ClassStats(ctx, classID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%s: %.1f%% present, %.1f%% absent\n", classID.Label(), cs.AveragePresenceRate, cs.AverageAbsenteeismRate)
		tw := cli.table()
		fmt.Fprintln(tw, "DATE\tPRESENT\tENROLLED\tRATE")
		for _, d := range cs.DailyStats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\n", d.Date, d.PresentCount, d.TotalCount, d.Rate)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		return cli.printStudentStats(cs.StudentStats)

	case "today":
		classID, err := classArg(args[1:])
		if err != nil {
			return err
		}
		td, err := cli.api.TodayStats(ctx, classID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%s today: %d of %d present (%.1f%%)\n", classID.Label(), td.Present, td.Total, td.Rate)
		return nil

	case "student":
		if len(args) < 2 {
			return errors.New("usage: stats student ID")
		}
		st, err := cli.api.StudentStats(ctx, args[1])
		if err != nil {
			return err
		}
		return cli.printStudentStats([]stats.StudentStats{st})

	case "at-risk":
		fs := cli.newFlagSet("stats at-risk")
		n := fs.Int("n", 5, "How many students to list.")
		if err := fs.Parse(args[1:]); err != nil {
			return errHelp
		}
		list, err := cli.api.AtRisk(ctx, *n)
		if err != nil {
			return err
		}
		return cli.printStudentStats(list)
	}
	cli.printUsage()
	return errHelp
}

func classArg(args []string) (model.ClassID, error) {
	if len(args) == 0 {
		return "", errors.New("a class is required (morning or afternoon)")
	}
	return parseClass(args[0], true)
}

func (cli *commandLine) printStudentStats(list []stats.StudentStats) error {
	tw := cli.table()
	fmt.Fprintln(tw, "STUDENT\tCLASS\tPRESENT\tABSENT\tUNRECORDED\tPRESENCE\tABSENTEEISM")
	for _, s := range list {
		fmt.Fprintf(tw, "%s %s\t%s\t%d\t%d\t%d\t%.1f%%\t%.1f%%\n",
			s.Student.LastName, s.Student.FirstName, s.Student.ClassID.Label(),
			s.DaysPresent, s.DaysAbsent, s.UnrecordedDays, s.PresenceRate, s.AbsenteeismRate)
	}
	return tw.Flush()
}

// ---------- export ----------

func (cli *commandLine) export(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("export")
	kind := fs.String("kind", "students", "students or summary.")
	class := fs.String("class", "", "Limit the students export to one session.")
	out := fs.String("o", "", "Output file. Defaults to a dated name in the current directory.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if *kind != "students" && *kind != "summary" {
		fs.Usage()
		return errHelp
	}
	classID, err := parseClass(*class, false)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("presence-%s-%s.xlsx", *kind, calendar.FormatDate(cli.now()))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cli.api.Export(ctx, f, *kind, classID); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "wrote %s\n", path)
	return nil
}

// ---------- settings ----------

func (cli *commandLine) settings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}
	switch args[0] {
	case "list":
		settings, err := cli.api.Settings(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tw := cli.table()
		fmt.Fprintln(tw, "KEY\tVALUE")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%s\n", k, settings[k])
		}
		return tw.Flush()

	case "set":
		fs := cli.newFlagSet("settings set")
		key := fs.String("key", "", "Setting key, e.g. FORMATION_END.")
		value := fs.String("value", "", "New value.")
		desc := fs.String("description", "", "Optional description.")
		if err := fs.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *key == "" || *value == "" {
			fs.Usage()
			return errHelp
		}
		created, err := cli.api.UpsertSetting(ctx, model.Setting{Key: *key, Value: *value, Description: *desc})
		if err != nil {
			return err
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		fmt.Fprintf(cli.out, "%s %s\n", verb, *key)
		return nil
	}
	cli.printUsage()
	return errHelp
}

// ---------- outbox ----------

func (cli *commandLine) outbox(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}
	switch args[0] {
	case "status":
		pending, dead := cli.queue.Pending(ctx), cli.queue.DeadLetters(ctx)
		fmt.Fprintf(cli.out, "%d pending, %d dead letters\n", len(pending), len(dead))
		tw := cli.table()
		fmt.Fprintln(tw, "ID\tSTATE\tTYPE\tQUEUED\tATTEMPTS\tLAST ERROR")
		for _, it := range pending {
			fmt.Fprintf(tw, "%s\tpending\t%s\t%s\t%d\t%s\n", it.ID, it.Type, it.Timestamp.Local().Format("2006-01-02 15:04"), it.Attempts, it.LastError)
		}
		for _, it := range dead {
			fmt.Fprintf(tw, "%s\tdead\t%s\t%s\t%d\t%s\n", it.ID, it.Type, it.Timestamp.Local().Format("2006-01-02 15:04"), it.Attempts, it.LastError)
		}
		return tw.Flush()

	case "flush":
		if !cli.monitor.Check(ctx) {
			return errors.New("api unreachable, nothing replayed")
		}
		res, err := cli.queue.Flush(ctx)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Fprintf(cli.out, "skipped: %s\n", res.Reason)
			return nil
		}
		fmt.Fprintf(cli.out, "replayed %d, failed %d, dead-lettered %d, remaining %d\n",
			res.Replayed, res.Failed, res.DeadLettered, res.Remaining)
		return nil

	case "retry":
		if len(args) < 2 {
			return errors.New("usage: outbox retry ID")
		}
		item, err := cli.queue.Retry(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "requeued %s %s\n", item.Type, item.ID)
		return nil

	case "discard":
		if len(args) < 2 {
			return errors.New("usage: outbox discard ID")
		}
		if err := cli.queue.Discard(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "discarded %s\n", args[1])
		return nil
	}
	cli.printUsage()
	return errHelp
}
