package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/model"
)

var approveBy string

func transitionEntity(cmd *cobra.Command, entity, id string, actionTo model.ActionStatus, creativeTo model.CreativeStatus, approver string) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	var out any
	switch entity {
	case "action":
		out, err = st.TransitionAction(ctx, id, actionTo, approver)
	case "creative":
		out, err = st.TransitionCreative(ctx, id, creativeTo, approver)
	default:
		return eris.Errorf("unknown entity %q, want action or creative", entity)
	}
	if err != nil {
		return err
	}

	zap.L().Info("transition applied",
		zap.String("entity", entity),
		zap.String("id", id),
		zap.String("by", approver))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var approveCmd = &cobra.Command{
	Use:   "approve <action|creative> <id>",
	Short: "Approve a pending action or draft creative",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionEntity(cmd, args[0], args[1], model.ActionApproved, model.CreativeApproved, approveBy)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <action|creative> <id>",
	Short: "Reject a pending action or draft creative",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionEntity(cmd, args[0], args[1], model.ActionRejected, model.CreativeRejected, approveBy)
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Mark an approved action as executed",
	Long:  "Records that an approved action was carried out on the ad platform. Only approved actions can be executed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionEntity(cmd, "action", args[0], model.ActionExecuted, "", approveBy)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <creative-id>",
	Short: "Mark an approved creative as published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionEntity(cmd, "creative", args[0], "", model.CreativePublished, approveBy)
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd, executeCmd, publishCmd} {
		c.Flags().StringVar(&approveBy, "by", "", "name of the human making the call (required)")
		_ = c.MarkFlagRequired("by")
		rootCmd.AddCommand(c)
	}
}
