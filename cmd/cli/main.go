// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"strategy-center/internal/storage/migrations"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	apiURL string
	token  string
	// pollInterval --wait 的轮询间隔
	pollInterval time.Duration
}

func (o *cliOptions) client() *apiClient {
	return newAPIClient(o.apiURL, o.token)
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{pollInterval: 2 * time.Second}
	root := &cobra.Command{
		Use:           "sc",
		Short:         "strategy-center 命令行：提交报告 Job、查看结果与审批",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", apiBaseURL(), "API 地址（"+envAPIURL+"）")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envAPIToken), "Bearer token（"+envAPIToken+"）")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "显示版本",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "strategy-center cli %s\n", version)
			},
		},
		newStatusCmd(opts),
		newAgentsCmd(opts),
		newExecuteCmd(opts),
		newJobsCmd(opts),
		newJobCmd(opts),
		newCancelCmd(opts),
		newApprovalsCmd(opts),
		newApprovalCmd(opts),
		newReviewCmd(opts),
		newLoginCmd(opts),
		newStatsCmd(opts),
		newMigrateCmd(),
	)
	return root
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "API 健康检查",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().health()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%v service=%v agents=%v\n", h["status"], h["service"], h["agents"])
			return nil
		},
	}
}

func newAgentsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "列出可用 Agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := opts.client().agents()
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "NAME\tCATEGORY\tREQUIRED\tTITLE")
			for _, a := range agents {
				var required []string
				for _, p := range a.Params {
					if p.Required {
						required = append(required, p.Name)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Category, dash(strings.Join(required, ",")), a.Title)
			}
			return w.Flush()
		},
	}
}

func newExecuteCmd(opts *cliOptions) *cobra.Command {
	var (
		paramsJSON string
		params     map[string]string
		priority   string
		noApproval bool
		wait       bool
		waitFor    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "execute <agent> <task>",
		Short: "提交报告 Job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := mergeParams(paramsJSON, params)
			if err != nil {
				return err
			}
			req := executeRequest{Task: args[1], Parameters: merged, Priority: priority}
			if noApproval {
				f := false
				req.RequiresApproval = &f
			}
			c := opts.client()
			resp, err := c.execute(args[0], req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s submitted (agent=%s priority=%s status=%s)\n", resp.JobID, resp.AgentName, resp.Priority, resp.Status)
			if !wait {
				return nil
			}
			j, err := waitForJob(c, resp.JobID, opts.pollInterval, waitFor)
			if err != nil {
				return err
			}
			printJob(out, j)
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", `JSON 参数，如 '{"tool_name":"Cursor"}'`)
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "单个参数 key=value，可重复")
	cmd.Flags().StringVar(&priority, "priority", "", "low | medium | high")
	cmd.Flags().BoolVar(&noApproval, "no-approval", false, "结果无需审批")
	cmd.Flags().BoolVar(&wait, "wait", false, "等待 Job 结束并打印结果")
	cmd.Flags().DurationVar(&waitFor, "wait-timeout", 10*time.Minute, "--wait 的最长等待时间")
	return cmd
}

// mergeParams --params JSON 与 --param key=value 合并，后者覆盖前者
func mergeParams(raw string, kv map[string]string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("--params is not a JSON object: %w", err)
		}
	}
	for k, v := range kv {
		out[k] = v
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed" || status == "cancelled"
}

func waitForJob(c *apiClient, id string, interval, timeout time.Duration) (*jobView, error) {
	deadline := time.Now().Add(timeout)
	for {
		j, err := c.job(id)
		if err != nil {
			return nil, err
		}
		if isTerminal(j.Status) {
			return j, nil
		}
		if time.Now().After(deadline) {
			return j, fmt.Errorf("job %s still %s after %s", id, j.Status, timeout)
		}
		time.Sleep(interval)
	}
}

func newJobsCmd(opts *cliOptions) *cobra.Command {
	var f jobFilter
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "列出 Job（非管理员仅本人）",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := opts.client().jobs(f)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tPRIORITY\tAPPROVAL\tOWNER\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.AgentName, j.Status, j.PriorityName,
					dash(j.ApprovalStatus), j.CreatedBy, j.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "pending | running | completed | failed | cancelled")
	cmd.Flags().StringVar(&f.Agent, "agent", "", "按 Agent 过滤")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "按提交人过滤（仅管理员生效）")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "最多返回条数")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "跳过条数")
	return cmd
}

func newJobCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job_id>",
		Short: "查看 Job 详情与结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := opts.client().job(args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), j)
			return nil
		},
	}
}

func printJob(out io.Writer, j *jobView) {
	w := newTable(out)
	fmt.Fprintf(w, "ID\t%s\n", j.ID)
	fmt.Fprintf(w, "Agent\t%s\n", j.AgentName)
	fmt.Fprintf(w, "Task\t%s\n", j.Task)
	fmt.Fprintf(w, "Status\t%s\n", j.Status)
	fmt.Fprintf(w, "Priority\t%s\n", j.PriorityName)
	fmt.Fprintf(w, "Approval\t%s\n", dash(j.ApprovalStatus))
	if j.ApprovedBy != "" {
		fmt.Fprintf(w, "Reviewed by\t%s\n", j.ApprovedBy)
	}
	if j.ErrorKind != "" {
		fmt.Fprintf(w, "Error\t%s: %s\n", j.ErrorKind, j.ErrorMessage)
	}
	_ = w.Flush()
	if j.Result != nil {
		if content, _ := j.Result["content"].(string); content != "" {
			fmt.Fprintf(out, "\n%s\n", content)
		}
	}
}

func newCancelCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "取消 Pending 或 Running 的 Job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := opts.client().cancel(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", j.ID, j.Status)
			return nil
		},
	}
}

func newApprovalsCmd(opts *cliOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "列出审批（需 manager/admin）",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().approvals(status)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tJOB\tAGENT\tSTATUS\tTITLE")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.JobID, a.AgentName, a.Status, a.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "pending | approved | rejected | all")
	return cmd
}

func newApprovalCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approval <approval_id>",
		Short: "查看审批全文",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().approval(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s [%s] job=%s agent=%s\n", a.Title, a.Status, a.JobID, a.AgentName)
			if a.RejectionReason != "" {
				fmt.Fprintf(out, "rejection reason: %s\n", a.RejectionReason)
			}
			if a.Redacted {
				fmt.Fprintln(out, "(content redacted)")
			}
			fmt.Fprintf(out, "\n%s\n", a.Content)
			return nil
		},
	}
}

func newReviewCmd(opts *cliOptions) *cobra.Command {
	var action, reason string
	cmd := &cobra.Command{
		Use:   "review <approval_id>",
		Short: "批准或驳回（--action approve|reject）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action != "approve" && action != "reject" {
				return fmt.Errorf("--action must be approve or reject")
			}
			a, err := opts.client().review(args[0], action, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approval %s %s by %s\n", a.ID, a.Status, a.ApprovedBy)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "approve | reject")
	cmd.Flags().StringVar(&reason, "reason", "", "驳回原因")
	return cmd
}

func newLoginCmd(opts *cliOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "登录并打印 token（export " + envAPIToken + "=...）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SC_PASSWORD")
			}
			token, err := opts.client().login(email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "登录邮箱")
	cmd.Flags().StringVar(&password, "password", "", "密码（也可用 SC_PASSWORD）")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newStatsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Dashboard 统计",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.client().stats()
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(s, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "对 Postgres 执行 schema 迁移",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("--dsn or SC_JOBSTORE_DSN is required")
			}
			out := cmd.OutOrStdout()
			if down > 0 {
				if err := migrations.Down(dsn, down); err != nil {
					return err
				}
			} else {
				applied, err := migrations.Up(dsn)
				if err != nil {
					return err
				}
				if !applied {
					fmt.Fprintln(out, "schema already up to date")
				}
			}
			v, dirty, err := migrations.Version(dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema version %d (dirty=%v)\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("SC_JOBSTORE_DSN"), "Postgres 连接串")
	cmd.Flags().IntVar(&down, "down", 0, "回滚的版本数")
	return cmd
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
