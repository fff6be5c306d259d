package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coursechat/internal/content"
	"coursechat/internal/models"
	"coursechat/internal/normalize"
	"coursechat/internal/session"
)

const chatHelp = `Commands:
  /courses                 list courses
  /open <code|id>          switch course
  /history                 show messages of the course
  /thread <id>             open the thread of a message
  /more                    load older replies of the open thread
  /close                   close the thread
  /reply <id>              reply to a message with the next line
  /cancel                  cancel the reply
  /search <query>          search the course, /search alone clears it
  /results                 show search results, /results more loads more
  /pin <id>, /unpin <id>   pin or unpin a message (lecturers)
  /upload <path>           send a file
  /download <id> <path>    save an attachment
  /quit                    leave
Anything else is sent as a message.`

// Chat is the interactive line-based chat loop.
type Chat struct {
	session *session.Session
	out     io.Writer
}

func NewChat(s *session.Session, out io.Writer) *Chat {
	return &Chat{session: s, out: out}
}

// Run reads commands from in until EOF, /quit or ctx is done.
func (c *Chat) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printCourses()
	c.printHistory()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := c.Exec(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Exec runs one input line.
func (c *Chat) Exec(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.session.Send(ctx, line, "")
		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, chatHelp)
	case "courses":
		c.printCourses()
	case "open":
		id, err := c.courseID(arg)
		if err != nil {
			return false, err
		}
		err = c.session.SelectCourse(ctx, id)
		c.printHistory()
		return false, err
	case "history":
		c.printHistory()
	case "thread":
		m, err := c.message(arg)
		if err != nil {
			return false, err
		}
		if err := c.session.OpenThread(ctx, m); err != nil {
			return false, err
		}
		c.printThread()
	case "more":
		if err := c.session.ThreadLoadMore(ctx); err != nil {
			return false, err
		}
		c.printThread()
	case "close":
		c.session.CloseThread()
	case "reply":
		m, err := c.message(arg)
		if err != nil {
			return false, err
		}
		if err := c.session.ReplyTo(ctx, m); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "replying to: %s\n", c.session.View().ReplyPreview)
	case "cancel":
		c.session.CancelReply()
	case "search":
		if arg == "" {
			c.session.ClearSearch()
			return false, nil
		}
		c.session.SetSearchQuery(arg)
	case "results":
		if arg == "more" {
			if err := c.session.SearchLoadMore(ctx); err != nil {
				return false, err
			}
		}
		c.printResults()
	case "pin", "unpin":
		if name == "pin" {
			return false, c.session.Pin(ctx, arg)
		}
		return false, c.session.Unpin(ctx, arg)
	case "upload":
		return false, c.upload(ctx, arg)
	case "download":
		id, path, _ := strings.Cut(arg, " ")
		return false, c.download(ctx, id, strings.TrimSpace(path))
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	return false, nil
}

func (c *Chat) courseID(arg string) (string, error) {
	for _, course := range c.session.View().Courses {
		if course.ID == arg || strings.EqualFold(course.Code, arg) {
			return course.ID, nil
		}
	}
	return "", fmt.Errorf("no course %q", arg)
}

func (c *Chat) message(id string) (models.Message, error) {
	m, ok := c.session.Message(id)
	if !ok {
		return models.Message{}, fmt.Errorf("no message %q", id)
	}
	return m, nil
}

func (c *Chat) upload(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /upload <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = c.session.Upload(ctx, filepath.Base(path), f, "")
	return err
}

func (c *Chat) download(ctx context.Context, id, path string) error {
	if id == "" || path == "" {
		return errors.New("usage: /download <id> <path>")
	}
	m, err := c.message(id)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	name, err := c.session.Download(ctx, m, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	fmt.Fprintf(c.out, "saved %s to %s\n", name, path)
	return nil
}

func (c *Chat) printCourses() {
	v := c.session.View()
	for _, course := range v.Courses {
		mark := " "
		if v.Selected != nil && v.Selected.ID == course.ID {
			mark = "*"
		}
		unread := ""
		if course.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", course.UnreadCount)
		}
		fmt.Fprintf(c.out, "%s %s %s%s\n", mark, course.Code, course.Title, unread)
	}
}

func (c *Chat) printHistory() {
	v := c.session.View()
	for _, m := range v.Messages {
		if m.ParentID() != "" {
			continue
		}
		c.printMessage(m, m.ID == v.PinnedID)
	}
}

func (c *Chat) printThread() {
	t := c.session.View().Thread
	if !t.Open {
		return
	}
	if t.ParentView != nil {
		c.printMessage(*t.ParentView, false)
	}
	if t.HasMore {
		fmt.Fprintln(c.out, "    ... /more for older replies")
	}
	for _, r := range t.Replies {
		fmt.Fprint(c.out, "    ")
		c.printMessage(r, false)
	}
}

func (c *Chat) printResults() {
	s := c.session.View().Search
	if s.Error != "" {
		fmt.Fprintf(c.out, "! %s\n", s.Error)
	}
	for _, m := range s.Results {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", m.ID, m.AuthorName(), content.Preview(&m))
	}
	if s.HasMore {
		fmt.Fprintln(c.out, "... /results more")
	}
}

func (c *Chat) printMessage(m session.MessageView, pinned bool) {
	flags := ""
	if pinned {
		flags += " [pinned]"
	}
	if m.Pending {
		flags += " [not sent]"
	}
	body := m.Preview
	if m.AttachmentLabel != "" {
		body = m.AttachmentLabel
	}
	fmt.Fprintf(c.out, "%s [%s] %s: %s%s\n", m.CreatedAt.Format("15:04"), m.ID, m.AuthorName(), body, flags)
	if m.ReplyCount > 0 {
		fmt.Fprintf(c.out, "    %d replies, latest %s\n", m.ReplyCount, m.LatestReply)
	}
}

// PrintEvents announces socket messages from other users until events is
// closed or ctx is done.
func PrintEvents(ctx context.Context, out io.Writer, userID func() string, events <-chan models.SocketEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Event != models.EventNewMessage {
				continue
			}
			m, ok := normalize.Decode(event.Data)
			if !ok || m.AuthorID() == userID() {
				continue
			}
			fmt.Fprintf(out, "> %s: %s\n", m.AuthorName(), content.Preview(&m))
		}
	}
}
