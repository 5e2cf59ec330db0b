package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/tutor-core/internal/config"
	"github.com/ashureev/tutor-core/internal/orchestrator"
)

type inspectedCheckpoint struct {
	Seq       int64     `yaml:"seq"`
	CreatedAt time.Time `yaml:"created_at"`
	State     any       `yaml:"state"`
}

func newInspectCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Print the checkpoints of a session as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			cps, err := st.checkpoints.List(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			if len(cps) == 0 {
				return fmt.Errorf("session %s has no checkpoints", args[0])
			}

			c := orchestrator.NewCodec()
			out := make([]inspectedCheckpoint, 0, len(cps))
			for _, cp := range cps {
				// Decode through the codec so unreadable snapshots fail here,
				// then print the safe form.
				state, err := c.Unmarshal(cp.Snapshot)
				if err != nil {
					return fmt.Errorf("decode checkpoint %d: %w", cp.Seq, err)
				}
				safe, err := plain(c.Serialize(state))
				if err != nil {
					return err
				}
				out = append(out, inspectedCheckpoint{Seq: cp.Seq, CreatedAt: cp.CreatedAt, State: safe})
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of checkpoints, newest first (0 for all)")
	return cmd
}

// plain converts a serialized value into JSON-shaped maps and slices so the
// YAML encoder prints it without Go type noise.
func plain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
