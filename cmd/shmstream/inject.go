/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

func injectCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Write flow-control frames to a layout's throttle ring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "window <name> <stream> <update>",
			Short: "Grant write credit to a stream",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				streamID, err := parseStreamID(args[1])
				if err != nil {
					return err
				}
				update, err := strconv.ParseInt(args[2], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid update %q: %w", args[2], err)
				}
				if update < 0 {
					return fmt.Errorf("update must not be negative, got %d", update)
				}
				return inject(e, args[0], frame.Window{StreamID: streamID, Update: int32(update)})
			},
		},
		&cobra.Command{
			Use:   "reset <name> <stream>",
			Short: "Abort a stream",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				streamID, err := parseStreamID(args[1])
				if err != nil {
					return err
				}
				return inject(e, args[0], frame.Reset{StreamID: streamID})
			},
		},
	)
	return cmd
}

func parseStreamID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	return id, nil
}

func inject(e *env, name string, f frame.Frame) error {
	layout, err := shm.OpenLayout(e.cfg.Directory, name)
	if err != nil {
		return err
	}
	defer layout.Close()

	b, err := frame.Append(nil, f)
	if err != nil {
		return err
	}
	if err := layout.Throttle().Write(f.TypeID(), b); err != nil {
		return fmt.Errorf("inject %s: %w", frame.TypeName(f.TypeID()), err)
	}
	e.logger.Info("injected", "type", frame.TypeName(f.TypeID()), "stream", f.Stream(), "path", layout.Path())
	return nil
}
