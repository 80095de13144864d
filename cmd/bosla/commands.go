package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bosla-edu/desk/internal/dashboard"
	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/grading"
	appI18n "github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/model"
	"github.com/bosla-edu/desk/internal/store"
)

// withDesk adapts a desk-using function to cobra's RunE.
func withDesk(fn func(cmd *cobra.Command, d *desk, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		d, err := openDesk(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		return fn(cmd, d, args)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func idArg(args []string, what string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, args[0])
	}
	return id, nil
}

// lectureID reads --lecture, falling back to the last lecture used. A given
// value becomes the new default.
func (d *desk) lectureID(cmd *cobra.Command) (int64, error) {
	id := d.v.GetInt64("lecture")
	if id <= 0 {
		id = d.prefs.LectureID
	}
	if id <= 0 {
		return 0, errors.New("--lecture is required")
	}
	if id != d.prefs.LectureID {
		d.prefs.LectureID = id
		if err := d.store.SetPrefs(cmd.Context(), d.prefs); err != nil {
			slog.Warn("save lecture preference failed", "error", err)
		}
	}
	return id, nil
}

// confirm asks before a destructive action unless --yes is given.
func confirm(cmd *cobra.Command, d *desk, prompt string) bool {
	if d.v.GetBool("yes") {
		return true
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s\n%s [y/N] ", prompt, appI18n.T(cmd.Context(), "ToastConfirmDelete"))
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func toast(cmd *cobra.Command, msgID string, data map[string]any) {
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Td(cmd.Context(), msgID, data))
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API bearer token for later commands",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d.v.GetString("token")), "Bearer "))
			if token == "" {
				return errors.New("--token is required (or set BOSLA_TOKEN)")
			}
			apiURL := d.v.GetString("api-url")
			if apiURL == "" {
				apiURL = defaultAPIURL
			}
			if err := d.store.SaveToken(cmd.Context(), token, apiURL, d.v.GetDuration("ttl")); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			slog.Info("signed in", "api_url", apiURL)
			return nil
		}),
	}
	cmd.Flags().String("token", "", "API bearer token")
	cmd.Flags().Duration("ttl", 0, "Forget the token after this long (0 = until logout)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API token",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			return d.store.Logout(cmd.Context())
		}),
	}
}

func examFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64("lecture", 0, "Lecture id (defaults to the last one used)")
	f.String("title", "", "Exam title")
	f.String("deadline", "", "Deadline, e.g. 2026-06-01T18:00 (local time)")
	f.Int("duration", 0, "Duration in minutes (0 = untimed)")
	f.String("type", "exam", "Exam type (exam, homework)")
	f.Bool("visible", false, "Show the exam to students")
	f.Bool("randomized", false, "Shuffle questions per student")
}

func examRequest(cmd *cobra.Command, d *desk) (exam.ExamRequest, error) {
	lectureID, err := d.lectureID(cmd)
	if err != nil {
		return exam.ExamRequest{}, err
	}
	req := exam.ExamRequest{
		LectureID:         lectureID,
		Title:             d.v.GetString("title"),
		Deadline:          d.v.GetString("deadline"),
		DurationInMinutes: d.v.GetInt("duration"),
		IsVisible:         d.v.GetBool("visible"),
		IsRandomized:      d.v.GetBool("randomized"),
	}
	switch strings.ToLower(d.v.GetString("type")) {
	case "exam", "1":
		req.Type = model.ExamTypeExam
	case "homework", "2":
		req.Type = model.ExamTypeHomework
	default:
		return exam.ExamRequest{}, fmt.Errorf("unknown exam type %q", d.v.GetString("type"))
	}
	return req, nil
}

func examCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "exam", Short: "Read and change lecture exams"}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the exam of a lecture",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			lectureID, err := d.lectureID(cmd)
			if err != nil {
				return err
			}
			e, err := d.exams.GetLectureExam(cmd.Context(), lectureID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*model.Exam
				MaxScore float64 `json:"maxScore"`
			}{e, e.MaxScore()})
		}),
	}
	get.Flags().Int64("lecture", 0, "Lecture id (defaults to the last one used)")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an exam for a lecture",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			req, err := examRequest(cmd, d)
			if err != nil {
				return err
			}
			id, err := d.exams.CreateExam(cmd.Context(), req)
			if err != nil {
				return err
			}
			toast(cmd, "ToastExamSaved", nil)
			return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
		}),
	}
	examFlags(create)

	edit := &cobra.Command{
		Use:   "edit EXAM_ID",
		Short: "Replace the settings of an exam",
		Args:  cobra.ExactArgs(1),
		RunE: withDesk(func(cmd *cobra.Command, d *desk, args []string) error {
			id, err := idArg(args, "exam")
			if err != nil {
				return err
			}
			req, err := examRequest(cmd, d)
			if err != nil {
				return err
			}
			req.ID = id
			if err := d.exams.EditExam(cmd.Context(), req); err != nil {
				return err
			}
			toast(cmd, "ToastExamSaved", nil)
			return nil
		}),
	}
	examFlags(edit)

	visibility := &cobra.Command{
		Use:   "visibility EXAM_ID",
		Short: "Show or hide an exam",
		Args:  cobra.ExactArgs(1),
		RunE: withDesk(func(cmd *cobra.Command, d *desk, args []string) error {
			id, err := idArg(args, "exam")
			if err != nil {
				return err
			}
			if err := d.exams.ChangeVisibility(cmd.Context(), id, d.v.GetBool("visible")); err != nil {
				return err
			}
			toast(cmd, "ToastVisibilityChanged", nil)
			return nil
		}),
	}
	visibility.Flags().Bool("visible", true, "Whether students can see the exam")

	del := deleteCmd("exam", "Delete an exam with its questions", func(cmd *cobra.Command, d *desk, id int64) error {
		return d.exams.DeleteExam(cmd.Context(), id)
	})

	cmd.AddCommand(get, create, edit, visibility, del)
	return cmd
}

// deleteCmd builds "delete ID" for one kind of entity.
func deleteCmd(what, short string, del func(cmd *cobra.Command, d *desk, id int64) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete " + strings.ToUpper(what) + "_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withDesk(func(cmd *cobra.Command, d *desk, args []string) error {
			id, err := idArg(args, what)
			if err != nil {
				return err
			}
			if !confirm(cmd, d, fmt.Sprintf("Delete %s %d?", what, id)) {
				return errors.New("aborted")
			}
			if err := del(cmd, d, id); err != nil {
				return err
			}
			toast(cmd, "ToastDeleted", nil)
			return nil
		}),
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func questionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "question", Short: "Import and delete exam questions"}

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Create the questions of a JSON file on a lecture's exam",
		Args:  cobra.ExactArgs(1),
		RunE: withDesk(func(cmd *cobra.Command, d *desk, args []string) error {
			return runImport(cmd, d, args[0])
		}),
	}
	imp.Flags().Int64("lecture", 0, "Lecture id (defaults to the file's lectureId, then the last one used)")
	imp.Flags().Bool("force", false, "Import even if this file was imported before")

	del := deleteCmd("question", "Delete a question", func(cmd *cobra.Command, d *desk, id int64) error {
		return d.exams.DeleteQuestion(cmd.Context(), id)
	})
	cmd.AddCommand(imp, del)
	return cmd
}

func runImport(cmd *cobra.Command, d *desk, path string) error {
	ctx := cmd.Context()
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	f, err := exam.ParseImport(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	hash := sha256sum(data)
	prev, err := d.store.GetImport(ctx, abs)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if prev != nil && !d.v.GetBool("force") {
		if prev.Hash == hash {
			slog.Info("questions file unchanged, skipping", "path", path, "exam_id", prev.ExamID)
			return nil
		}
		slog.Warn("questions file changed since last import; use --force to import it again", "path", path)
		return nil
	}

	if d.v.GetInt64("lecture") <= 0 && f.LectureID > 0 {
		d.v.Set("lecture", f.LectureID)
	}
	lectureID, err := d.lectureID(cmd)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	res, err := d.exams.Import(ctx, lectureID, f, func(name string) ([]byte, error) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		return os.ReadFile(name)
	})
	if err != nil {
		return err
	}
	for _, e := range res.Failed {
		slog.Error("question not imported", "path", path, "error", e)
	}
	if len(res.Created) > 0 {
		if err := d.store.RecordImport(ctx, store.ImportRecord{
			Path: abs, Hash: hash, ExamID: res.ExamID, Questions: len(res.Created),
		}); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
	}
	slog.Info("imported questions", "path", path, "exam_id", res.ExamID, "count", len(res.Created), "failed", len(res.Failed))
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d questions failed", len(res.Failed), len(f.Questions))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func optionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "option", Short: "Manage question options"}
	cmd.AddCommand(deleteCmd("option", "Delete a question option", func(cmd *cobra.Command, d *desk, id int64) error {
		return d.exams.DeleteOption(cmd.Context(), id)
	}))
	return cmd
}

func submissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List the exam submissions of a lecture, ungraded first",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			lectureID, err := d.lectureID(cmd)
			if err != nil {
				return err
			}
			subs, err := d.grading.ListSubmissions(cmd.Context(), lectureID)
			if err != nil {
				return err
			}
			if d.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), subs)
			}
			out := cmd.OutOrStdout()
			for _, s := range subs {
				submitted := "-"
				if s.SubmittedAt != nil {
					submitted = s.SubmittedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%d\t%d\t%s\t%s\t%.2f\t%s\n", s.ID, s.StudentID, s.StudentName, submitted, s.CurrentScore,
					appI18n.Tp(cmd.Context(), "PendingAnswers", s.PendingAnswers))
			}
			return nil
		}),
	}
	cmd.Flags().Int64("lecture", 0, "Lecture id (defaults to the last one used)")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grade", Short: "Grade student answers"}
	apply := &cobra.Command{
		Use:   "apply FILE",
		Short: "Apply a JSON grade file and save the batch",
		Args:  cobra.ExactArgs(1),
		RunE: withDesk(func(cmd *cobra.Command, d *desk, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			f, err := grading.ParseGradeFile(data)
			if err != nil {
				return err
			}
			batch, err := d.grading.Apply(cmd.Context(), f)
			if err != nil {
				return err
			}
			slog.Info("grades sent", "result_id", batch.StudentExamResultID, "records", len(batch.GradedAnswers))
			return nil
		}),
	}
	cmd.AddCommand(apply)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the grades of a lecture's exam as JSON",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			lectureID, err := d.lectureID(cmd)
			if err != nil {
				return err
			}
			out, err := d.grading.Export(cmd.Context(), lectureID)
			if err != nil {
				return err
			}

			outPath := d.v.GetString("output")
			var w io.Writer
			if outPath == "" || outPath == "-" {
				w = cmd.OutOrStdout()
			} else {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return printJSON(w, out)
		}),
	}
	cmd.Flags().Int64("lecture", 0, "Lecture id (defaults to the last one used)")
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func deadlineExceptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadline-exception",
		Short: "Extend an exam deadline for one student",
		RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
			ex, err := d.exams.CreateDeadlineException(cmd.Context(), exam.DeadlineRequest{
				ExamID:               d.v.GetInt64("exam"),
				StudentID:            d.v.GetInt64("student"),
				ExtendedDeadline:     d.v.GetString("until"),
				AllowedAfterDeadline: d.v.GetBool("allow-late"),
				Reason:               d.v.GetString("reason"),
			})
			if err != nil {
				return err
			}
			toast(cmd, "ToastDeadlineException", nil)
			return printJSON(cmd.OutOrStdout(), ex)
		}),
	}
	f := cmd.Flags()
	f.Int64("exam", 0, "Exam id")
	f.Int64("student", 0, "Student id")
	f.String("until", "", "New deadline, e.g. 2026-06-03T23:59 (local time)")
	f.Bool("allow-late", false, "Accept submissions after the new deadline")
	f.String("reason", "", "Why the extension was granted")
	return cmd
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dashboard", Short: "Show read-only dashboards"}

	show := func(use, short string, get func(d *desk, cmd *cobra.Command) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: withDesk(func(cmd *cobra.Command, d *desk, _ []string) error {
				v, err := get(d, cmd)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			}),
		}
	}
	cmd.AddCommand(
		show("parent", "Summary of a parent's children", func(d *desk, cmd *cobra.Command) (any, error) {
			return dashboard.New(d.client).Parent(cmd.Context())
		}),
		show("teacher", "Summary of a teacher's catalogue", func(d *desk, cmd *cobra.Command) (any, error) {
			return dashboard.New(d.client).Teacher(cmd.Context())
		}),
	)
	return cmd
}
