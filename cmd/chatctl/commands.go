package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sahilchouksey/school-connect/handlers/chat"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var (
		claims auth.Claims
		secret string
		issuer string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with the server's JWT secret",
		Long: `Mint an access token for local development.

The server does not issue tokens itself; sign one with the same JWT_SECRET
and pass it to the other commands with --token or CHATCTL_TOKEN.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("no secret, pass --secret or set JWT_SECRET")
			}
			manager := auth.NewJWTManager(auth.JWTConfig{Secret: secret, Issuer: issuer, Expiry: ttl})
			token, _, err := manager.GenerateAccessToken(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&claims.NodeKey, "node-key", "", "user node key (required)")
	cmd.Flags().StringVar(&claims.UserID, "user-id", "", "logical user id, resolved from the node key when empty")
	cmd.Flags().StringVar(&claims.StudentNodeKey, "student", "", "student node key for student accounts")
	cmd.Flags().StringVar(&claims.Role, "role", string(model.RoleStudent), "account role")
	cmd.Flags().StringVar(&claims.DeviceID, "device", "", "device id, defaults to the node key")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "school-connect"), "token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("node-key")

	return cmd
}

func newContactsCommand(opts *rootOptions) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:          "contacts",
		Short:        "List the people you can message",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			path := "/chat/contacts"
			if cached {
				path = "/chat/contacts/cached"
			}

			var out chat.ContactsResponse
			if err := client.do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			printContacts(cmd.OutOrStdout(), out.Contacts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "show the last saved directory without rebuilding it")
	return cmd
}

func printContacts(w io.Writer, contacts []model.Contact) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER ID\tNAME\tTYPE\tLAST MESSAGE\tAT")
	for _, c := range contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.UserID, c.Name, c.Type, c.LastMessageText, formatMillis(c.LastMessageTime))
	}
	tw.Flush()
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "send <peer-id> <text...>",
		Short:        "Send a text message",
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			var msg model.Message
			body := chat.SendMessageRequest{Text: strings.Join(args[1:], " ")}
			if err := client.do(http.MethodPost, "/chat/conversations/"+args[0]+"/messages", body, &msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", msg.MessageID, msg.ReceiverID)
			return nil
		},
	}
}

func newTailCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <peer-id>",
		Short: "Follow a conversation live; lines typed on stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			conn, err := client.dialStream(args[0])
			if err != nil {
				return err
			}
			defer conn.Close()

			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					text := strings.TrimSpace(scanner.Text())
					if text == "" {
						continue
					}
					if err := conn.WriteJSON(chat.StreamClientMessage{Type: "send", Text: text}); err != nil {
						return
					}
				}
			}()

			printed := map[string]bool{}
			for {
				var update services.FeedUpdate
				if err := conn.ReadJSON(&update); err != nil {
					return fmt.Errorf("stream closed: %w", err)
				}
				for _, m := range update.Messages {
					if printed[m.MessageID] {
						continue
					}
					printed[m.MessageID] = true
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", formatMillis(m.TimeStamp), m.SenderID, m.Text)
				}
			}
		},
	}
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	var (
		pages int
		like  string
	)

	cmd := &cobra.Command{
		Use:          "feed",
		Short:        "Show school announcements",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			if like != "" {
				var post services.PostView
				if err := client.do(http.MethodPost, "/feed/posts/"+like+"/like", nil, &post); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s liked=%t likes=%d\n", post.PostID, post.LikedByViewer, post.LikeCount)
				return nil
			}

			var snap services.FeedSnapshot
			if err := client.do(http.MethodGet, "/feed", nil, &snap); err != nil {
				return err
			}
			for i := 0; i < pages && snap.HasMore; i++ {
				if err := client.do(http.MethodPost, "/feed/more", nil, &snap); err != nil {
					return err
				}
			}

			printPosts(cmd.OutOrStdout(), append(snap.Latest, snap.Older...))
			if snap.HasMore {
				fmt.Fprintln(cmd.OutOrStdout(), "... more with --pages")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 0, "older pages to load after the latest posts")
	cmd.Flags().StringVar(&like, "like", "", "toggle your like on a post id instead of listing")
	return cmd
}

func printPosts(w io.Writer, posts []services.PostView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POST ID\tTIME\tLIKES\tMESSAGE")
	for _, p := range posts {
		likes := fmt.Sprint(p.LikeCount)
		if p.LikedByViewer {
			likes += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.PostID, p.Time, likes, p.Message)
	}
	tw.Flush()
}

func newGradesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "grades",
		Short:        "Show your report card",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts)
			if err != nil {
				return err
			}

			var card []services.CourseMarks
			if err := client.do(http.MethodGet, "/grades", nil, &card); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "COURSE\tSCORE\tPERCENT")
			for _, c := range card {
				fmt.Fprintf(tw, "%s\t%g/%g\t%.2f%%\n", c.CourseName, c.Score, c.MaxScore, c.Percentage)
			}
			return tw.Flush()
		},
	}
}
