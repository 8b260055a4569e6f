package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// threadFlags are the inputs shared by post and schedule.
type threadFlags struct {
	file    string
	texts   []string
	delayMS int64
	replyTo string
}

func (f *threadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "JSON request body file ('-' for stdin)")
	cmd.Flags().StringArrayVarP(&f.texts, "text", "t", nil, "post text, repeat once per post in order")
	cmd.Flags().Int64Var(&f.delayMS, "delay-ms", -1, "override the pause between posts in milliseconds")
	cmd.Flags().StringVar(&f.replyTo, "reply-to", "", "post id the first post replies to")
	cmd.MarkFlagsMutuallyExclusive("file", "text")
}

// body returns the request body. A file is sent as is, so both the texts
// form and the tweet1..tweetN form work.
func (f *threadFlags) body(stdin io.Reader) ([]byte, error) {
	if f.file != "" {
		var raw []byte
		var err error
		if f.file == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(f.file)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.file, err)
		}
		if f.delayMS < 0 && f.replyTo == "" {
			return raw, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%s is not a JSON object: %w", f.file, err)
		}
		f.apply(obj)
		return json.Marshal(obj)
	}

	if len(f.texts) == 0 {
		return nil, errors.New("one of --file or --text is required")
	}
	texts, _ := json.Marshal(f.texts)
	obj := map[string]json.RawMessage{"texts": texts}
	f.apply(obj)
	return json.Marshal(obj)
}

func (f *threadFlags) apply(obj map[string]json.RawMessage) {
	if f.delayMS >= 0 {
		obj["delay_ms"] = json.RawMessage(fmt.Sprint(f.delayMS))
	}
	if f.replyTo != "" {
		v, _ := json.Marshal(f.replyTo)
		obj["reply_to_id"] = v
	}
}

func newPostCmd(opts *globalOptions) *cobra.Command {
	flags := &threadFlags{}
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Publish a thread and wait for the result",
		Example: `  threadctl post --text "1/ hello" --text "2/ world"
  threadctl post --file thread.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := flags.body(cmd.InOrStdin())
			if err != nil {
				return err
			}
			data, _, err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/post-thread", body, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	flags.register(cmd)
	return cmd
}

func newScheduleCmd(opts *globalOptions) *cobra.Command {
	flags := &threadFlags{}
	var idempotencyKey string
	var wait bool
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Submit a thread to run in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := flags.body(cmd.InOrStdin())
			if err != nil {
				return err
			}
			var header http.Header
			if idempotencyKey != "" {
				header = http.Header{"Idempotency-Key": {idempotencyKey}}
			}

			client := newAPIClient(opts)
			data, _, err := client.do(cmd.Context(), http.MethodPost, "/schedule-thread", body, header)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), data)
			}

			var accepted struct {
				ThreadID string `json:"thread_id"`
			}
			if err := json.Unmarshal(data, &accepted); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %s\n", accepted.ThreadID)

			st, err := client.waitForThread(cmd.Context(), accepted.ThreadID, pollInterval)
			if err != nil {
				return err
			}
			out, _ := json.Marshal(st)
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if st.State != "completed" {
				return fmt.Errorf("thread %s finished %s", st.ThreadID, st.State)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header for safe retries")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the thread finishes")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "status poll interval with --wait")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <thread-id>",
		Short: "Show a thread job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _, err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/thread/"+args[0], nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var state string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List thread jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := fmt.Sprintf("/threads?page=%d&limit=%d", page, limit)
			if state != "" {
				path += "&state=" + state
			}
			data, _, err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only jobs in this state")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "jobs per page")
	return cmd
}

func newCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <thread-id>",
		Short: "Cancel a pending or running thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _, err := newAPIClient(opts).do(cmd.Context(), http.MethodDelete, "/thread/"+args[0], nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, _, err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/health", nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}
