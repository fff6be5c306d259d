package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"coursechat/internal/models"

	"github.com/spf13/cobra"
)

var ErrNotAdmin = errors.New("administration requires an ADMIN account")

func adminCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage courses, lecturers and enrollments",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSignedIn(env); err != nil {
				return err
			}
			if user, ok := env.Auth.User(); !ok || user.Role != models.UserRoleAdmin {
				return ErrNotAdmin
			}
			return nil
		},
	}

	courses := &cobra.Command{
		Use:   "courses",
		Short: "List and edit courses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := env.API.AdminCourses(cmd.Context())
			if err != nil {
				return err
			}
			printCourses(env.Out, list)
			return nil
		},
	}
	courses.AddCommand(
		createCourseCommand(env),
		deleteCourseCommand(env),
		assignLecturerCommand(env),
	)

	cmd.AddCommand(
		courses,
		lecturersCommand(env),
		studentsCommand(env),
		enrollmentsCommand(env),
		banCommand(env, true),
		banCommand(env, false),
	)
	return cmd
}

func createCourseCommand(env *Env) *cobra.Command {
	var req models.CreateCourseRequest
	cmd := &cobra.Command{
		Use:   "create <code> <title>",
		Short: "Create a course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Code, req.Title = args[0], args[1]
			course, err := env.API.CreateCourse(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Created %s %s (%s)\n", course.Code, course.Title, course.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.LecturerID, "lecturer", "", "lecturer id")
	return cmd
}

func deleteCourseCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <course-id>",
		Short: "Delete a course with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.API.DeleteCourse(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func assignLecturerCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <course-id> [lecturer-id]",
		Short: "Set the lecturer of a course, or clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lecturerID *string
			if len(args) == 2 {
				lecturerID = &args[1]
			}
			course, err := env.API.AssignLecturer(cmd.Context(), args[0], lecturerID)
			if err != nil {
				return err
			}
			lecturer := "nobody"
			if course.Lecturer != nil {
				lecturer = course.Lecturer.Name
			}
			fmt.Fprintf(env.Out, "%s is taught by %s\n", course.Code, lecturer)
			return nil
		},
	}
}

func lecturersCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "lecturers",
		Short: "List lecturers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := env.API.Lecturers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL\tDEPARTMENT")
			for _, u := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Department)
			}
			return w.Flush()
		},
	}
}

func studentsCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "students",
		Short: "List students",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := env.API.Students(cmd.Context())
			if err != nil {
				return err
			}
			return printStudents(env.Out, list)
		},
	}
}

func enrollmentsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrollments <course-id>",
		Short: "List the students of a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enrollment, err := env.API.CourseStudents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStudents(env.Out, enrollment.Students)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <course-id> <student-id>",
		Short: "Enroll a student",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := env.API.Enroll(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Enrolled %s in %s\n", summary.Student.Name, args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "remove <course-id> <student-id>",
		Short: "Remove a student from a course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.API.Unenroll(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Removed %s from %s\n", args[1], args[0])
			return nil
		},
	})
	return cmd
}

func banCommand(env *Env, ban bool) *cobra.Command {
	use, short := "ban <user-id>", "Ban a user"
	if !ban {
		use, short = "unban <user-id>", "Lift a ban"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := env.API.Ban
			if !ban {
				call = env.API.Unban
			}
			student, err := call(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "active"
			if student.IsBanned {
				state = "banned"
			}
			fmt.Fprintf(env.Out, "%s is %s\n", student.Name, state)
			return nil
		},
	}
}

func printCourses(out io.Writer, courses []models.Course) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tTITLE\tLECTURER\tSTUDENTS")
	for _, c := range courses {
		lecturer := "-"
		if c.Lecturer != nil {
			lecturer = c.Lecturer.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", c.ID, c.Code, c.Title, lecturer, c.StudentCount)
	}
	_ = w.Flush()
}

func printStudents(out io.Writer, students []models.StudentSummary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tBANNED")
	for _, s := range students {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.ID, s.Name, s.Email, s.IsBanned)
	}
	return w.Flush()
}
