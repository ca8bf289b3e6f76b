package main

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Prints the live value of one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				found, val, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return errors.Newf("key %q not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), val)
				return nil
			}
			vals, err := store.GetMany(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, key := range args {
				if val, ok := vals[key]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, val)
				}
			}
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Stores a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args, false)
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Stores a value only if the key is not live",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args, true)
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]...",
		Short: "Deletes keys (retires them in a capped collection)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := store.DeleteMany(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Reports whether a key is live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := store.HasKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Increments a numeric value (delta defaults to 1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return increment(cmd, args, 1)
		},
	}
	decrCmd = &cobra.Command{
		Use:   "decr [key] [delta]",
		Short: "Decrements a numeric value (delta defaults to 1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return increment(cmd, args, -1)
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Prints the seconds left before a key expires, or none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remaining, ok, err := store.TTL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "none")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.0f\n", remaining.Seconds())
			return nil
		},
	}
	touchCmd = &cobra.Command{
		Use:   "touch [key]",
		Short: "Resets the expiry of a live key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, _ := cmd.Flags().GetString("expires")
			timeout, err := parseExpiry(expires)
			if err != nil {
				return err
			}
			ok, err := store.Touch(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes every entry (retires them in a capped collection)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{setCmd, addCmd, touchCmd} {
		cmd.Flags().String("expires", "", "entry timeout in seconds or as a duration; never for no expiry (default: the cache timeout)")
	}
	for _, cmd := range []*cobra.Command{setCmd, addCmd} {
		cmd.Flags().Bool("raw", false, "store the value as a plain string instead of parsing it as YAML")
	}
}

func write(cmd *cobra.Command, args []string, onlyIfAbsent bool) error {
	expires, _ := cmd.Flags().GetString("expires")
	timeout, err := parseExpiry(expires)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	value := parseValue(args[1], raw)

	var ok bool
	if onlyIfAbsent {
		ok, err = store.Add(cmd.Context(), args[0], value, timeout)
	} else {
		ok, err = store.Set(cmd.Context(), args[0], value, timeout)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	return nil
}

func increment(cmd *cobra.Command, args []string, sign int64) error {
	delta := int64(1)
	if len(args) == 2 {
		var err error
		if delta, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			return errors.Wrap(err, "delta must be an integer")
		}
	}
	n, err := store.Incr(cmd.Context(), args[0], sign*delta)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}
