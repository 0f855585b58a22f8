// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/morganforge/geminichat/internal/api"
	"github.com/morganforge/geminichat/internal/chat"
	"github.com/morganforge/geminichat/internal/export"
	"github.com/morganforge/geminichat/internal/model"
	"github.com/morganforge/geminichat/internal/session"
	"github.com/morganforge/geminichat/internal/upload"
	"github.com/morganforge/geminichat/internal/util"
)

// App drives the interactive terminal session.
type App struct {
	sess  *session.Manager
	chat  *chat.Manager
	coord *upload.Coordinator
	input *Input

	// expired is signalled by the session layer when the backend
	// invalidates the token mid-session.
	expired chan struct{}
}

// NewApp wires the REPL over the managers. The session's expiry callback
// is registered here so the loop can drop back to sign-in.
func NewApp(sess *session.Manager, chatMgr *chat.Manager, coord *upload.Coordinator, historyFile string) *App {
	app := &App{
		sess:    sess,
		chat:    chatMgr,
		coord:   coord,
		input:   NewInput(historyFile),
		expired: make(chan struct{}, 1),
	}
	sess.SetOnSessionExpired(func() {
		chatMgr.Reset()
		select {
		case app.expired <- struct{}{}:
		default:
		}
	})
	return app
}

// Close releases the terminal.
func (a *App) Close() {
	a.input.Close()
}

// Run is the top-level loop: sign in, chat until exit or expiry, repeat.
func (a *App) Run(ctx context.Context) error {
	for {
		if !a.sess.IsAuthenticated() {
			if err := a.signIn(ctx); err != nil {
				return err
			}
		}
		done, err := a.chatLoop(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// =============================================================================
// SIGN-IN
// =============================================================================

func (a *App) signIn(ctx context.Context) error {
	fmt.Println("Sign in (or type 'register' to create an account).")
	for {
		email, err := a.input.ReadLine("email> ")
		if err != nil {
			return err
		}
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}

		if email == "register" {
			if err := a.register(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Registration failed: %v\n", friendly(err))
				continue
			}
			return nil
		}

		password, err := a.input.ReadPassword("password> ")
		if err != nil {
			return err
		}

		if _, err := a.sess.Login(ctx, email, password, true); err != nil {
			fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", friendly(err))
			continue
		}

		user := a.sess.User()
		fmt.Printf("Welcome, %s.\n", user.DisplayName())
		a.chat.Restore()
		if _, err := a.chat.LoadConversations(ctx, 1, 50); err != nil {
			fmt.Fprintf(os.Stderr, "Could not load conversations: %v\n", friendly(err))
		}
		return nil
	}
}

func (a *App) register(ctx context.Context) error {
	username, err := a.input.ReadLine("username> ")
	if err != nil {
		return err
	}
	email, err := a.input.ReadLine("email> ")
	if err != nil {
		return err
	}
	password, err := a.input.ReadPassword("password> ")
	if err != nil {
		return err
	}

	user, err := a.sess.Register(ctx, strings.TrimSpace(username), strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	fmt.Printf("Account created. Welcome, %s.\n", user.DisplayName())
	return nil
}

// =============================================================================
// CHAT LOOP
// =============================================================================

// chatLoop reads prompts and slash commands until the user quits (true)
// or the session expires (false, caller re-runs sign-in).
func (a *App) chatLoop(ctx context.Context) (bool, error) {
	for {
		select {
		case <-a.expired:
			fmt.Println("\nSession expired. Please sign in again.")
			return false, nil
		default:
		}

		input, err := a.input.ReadLine("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return true, nil
			}
			// EOF exits cleanly.
			return true, nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit := a.dispatch(ctx, input)
			if quit {
				return true, nil
			}
			if !a.sess.IsAuthenticated() {
				return false, nil
			}
			continue
		}

		a.send(ctx, input)
	}
}

func (a *App) send(ctx context.Context, prompt string) {
	msgs, err := a.chat.SendMessage(ctx, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", friendly(err))
		return
	}
	fmt.Printf("\nassistant> %s\n\n", msgs[1].Content)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (a *App) dispatch(ctx context.Context, input string) (quit bool) {
	parts := strings.Fields(input)
	cmd, args := parts[0], parts[1:]

	var err error
	switch cmd {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h":
		printHelp()
	case "/list", "/ls":
		err = a.cmdList(ctx)
	case "/new":
		err = a.cmdNew(ctx, strings.Join(args, " "))
	case "/select", "/open":
		err = a.cmdSelect(ctx, args)
	case "/delete", "/rm":
		err = a.cmdDelete(ctx, args)
	case "/rename":
		err = a.cmdRename(ctx, args)
	case "/archive":
		err = a.cmdToggle(ctx, args, a.chat.ArchiveConversation)
	case "/unarchive":
		err = a.cmdToggle(ctx, args, a.chat.UnarchiveConversation)
	case "/favorite", "/fav":
		err = a.cmdToggle(ctx, args, a.chat.FavoriteConversation)
	case "/unfavorite", "/unfav":
		err = a.cmdToggle(ctx, args, a.chat.UnfavoriteConversation)
	case "/search":
		err = a.cmdSearch(ctx, strings.Join(args, " "))
	case "/messages", "/history":
		err = a.cmdMessages()
	case "/regenerate", "/regen":
		err = a.cmdRegenerate(ctx)
	case "/upload":
		err = a.cmdUpload(ctx, args)
	case "/export":
		err = a.cmdExport(ctx, args)
	case "/profile":
		err = a.cmdProfile(ctx)
	case "/logout":
		a.sess.Logout(ctx)
		a.chat.Reset()
		fmt.Println("Signed out.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %s. Try /help.\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", friendly(err))
	}
	return false
}

func printHelp() {
	fmt.Print(`Commands:
  /list                 List conversations
  /new [title]          Start a new conversation
  /select <n|id>        Switch to a conversation
  /delete <n|id>        Delete a conversation
  /rename <n|id> title  Rename a conversation
  /archive <n|id>       Archive; /unarchive to restore
  /favorite <n|id>      Mark favorite; /unfavorite to unmark
  /search <query>       Search conversations
  /messages             Show the current conversation
  /regenerate           Regenerate the last response
  /upload <path> [p]    Send a file (image, audio or PDF)
  /export [txt|json|pdf] [file]
                        Export the current conversation
  /profile              Show account profile
  /logout               Sign out
  /quit                 Exit
`)
}

func (a *App) cmdList(ctx context.Context) error {
	convs, err := a.chat.LoadConversations(ctx, 1, 50)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet. Just type to start one.")
		return nil
	}
	current := a.chat.CurrentID()
	for i, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		flags := ""
		if c.Favorite {
			flags += " [fav]"
		}
		if c.Archived {
			flags += " [archived]"
		}
		fmt.Printf("%s %2d. %s%s\n", marker, i+1, util.TruncateRunes(c.GetTitle(), 60), flags)
	}
	return nil
}

func (a *App) cmdNew(ctx context.Context, title string) error {
	conv, err := a.chat.CreateConversation(ctx, title)
	if err != nil {
		return err
	}
	fmt.Printf("Started %q.\n", conv.GetTitle())
	return nil
}

// resolveID maps a 1-based list index or a raw ID to a conversation ID.
func (a *App) resolveID(arg string) (string, error) {
	convs := a.chat.Conversations()
	var n int
	if _, err := fmt.Sscanf(arg, "%d", &n); err == nil && n >= 1 && n <= len(convs) {
		return convs[n-1].ID, nil
	}
	for _, c := range convs {
		if c.ID == arg {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation %q; try /list", arg)
}

func (a *App) cmdSelect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /select <n|id>")
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}
	conv, err := a.chat.SelectConversation(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Switched to %q (%d messages).\n", conv.GetTitle(), conv.MessageCount())
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /delete <n|id>")
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}
	if err := a.chat.DeleteConversation(ctx, id); err != nil {
		return err
	}
	fmt.Println("Deleted.")
	return nil
}

func (a *App) cmdRename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /rename <n|id> <title>")
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}
	conv, err := a.chat.UpdateConversationTitle(ctx, id, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("Renamed to %q.\n", conv.GetTitle())
	return nil
}

func (a *App) cmdToggle(ctx context.Context, args []string, op func(context.Context, string) (*model.Conversation, error)) error {
	if len(args) != 1 {
		return errors.New("usage: command takes one conversation")
	}
	id, err := a.resolveID(args[0])
	if err != nil {
		return err
	}
	if _, err := op(ctx, id); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

func (a *App) cmdSearch(ctx context.Context, q string) error {
	if q == "" {
		return errors.New("usage: /search <query>")
	}
	convs, err := a.chat.SearchConversations(ctx, q, 0, 0)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, c := range convs {
		fmt.Printf("  %s  %s\n", c.ID, util.TruncateRunes(c.GetTitle(), 60))
	}
	return nil
}

func (a *App) cmdMessages() error {
	msgs := a.chat.Messages()
	if len(msgs) == 0 {
		fmt.Println("No messages in the current conversation.")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("%s: %s\n", m.RoleLabel(), m.Content)
	}
	return nil
}

func (a *App) cmdRegenerate(ctx context.Context) error {
	msg, err := a.chat.RegenerateResponse(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nassistant> %s\n\n", msg.Content)
	return nil
}

func (a *App) cmdUpload(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: /upload <path> [prompt]")
	}
	path := args[0]
	prompt := strings.Join(args[1:], " ")

	preview, err := a.coord.GeneratePreview(path)
	if err != nil {
		return err
	}
	fmt.Printf("Uploading %s (%s, %s)...\n", preview.Filename, preview.Category, util.FormatBytes(preview.Size))

	progress := func(p int) {
		fmt.Printf("\r  %3d%%", p)
	}

	var msgs []model.Message
	switch preview.Category {
	case upload.CategoryImage:
		msgs, err = a.chat.SendImage(ctx, path, prompt, progress)
	case upload.CategoryAudio:
		msgs, err = a.chat.SendVoice(ctx, path, progress)
	default:
		msgs, err = a.chat.SendPDF(ctx, path, prompt, progress)
	}
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("\nassistant> %s\n\n", msgs[1].Content)
	return nil
}

func (a *App) cmdExport(ctx context.Context, args []string) error {
	format := "txt"
	if len(args) > 0 {
		format = args[0]
	}

	if exp := export.ForFormat(format); exp != nil {
		conv := a.chat.Current()
		if conv == nil {
			return chat.ErrNoConversation
		}
		out, err := exp.Export(conv)
		if err != nil {
			return err
		}
		return a.writeExport(args, out, exp.Extension())
	}

	if format == "pdf" {
		id := a.chat.CurrentID()
		if id == "" {
			return chat.ErrNoConversation
		}
		data, err := a.chat.DownloadExport(ctx, id, "pdf")
		if err != nil {
			return err
		}
		name := exportName(args, ".pdf")
		if err := os.WriteFile(name, data, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%s).\n", name, util.FormatBytes(int64(len(data))))
		return nil
	}

	return fmt.Errorf("unsupported export format %q", format)
}

func (a *App) writeExport(args []string, content, ext string) error {
	name := exportName(args, ext)
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s.\n", name)
	return nil
}

func exportName(args []string, ext string) string {
	if len(args) > 1 {
		return args[1]
	}
	return "conversation" + ext
}

func (a *App) cmdProfile(ctx context.Context) error {
	user, err := a.sess.GetProfile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Username: %s\nEmail:    %s\n", user.Username, user.Email)
	if user.Role != "" {
		fmt.Printf("Role:     %s\n", user.Role)
	}
	return nil
}

// friendly strips the API prefix from normalized errors for display.
func friendly(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
