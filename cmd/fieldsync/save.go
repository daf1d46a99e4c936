package main

import (
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save <entity> <json>",
	Short: "Save a record locally and queue it for sync",
	Long: `Write a record into the local cache and append the matching
mutation to the sync queue. The record syncs on the next pass.

Entities: projects, tasks, timeEntries, documents, clients.

Example:
  fieldsync save tasks '{"id":"T1","title":"Inspect valve","project_id":"P1"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runSave,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <entity> <id>",
	Short: "Delete a record locally and queue the remote delete",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func runSave(cmd *cobra.Command, args []string) error {
	entity := fieldsync.Entity(args[0])
	if !entity.IsValid() {
		return fmt.Errorf("unknown entity %q", args[0])
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
		return fmt.Errorf("parse record: %w", err)
	}

	client, err := fieldsync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	rec, err := client.Save(entity, fieldsync.Record{
		ID:   payload.ID,
		Data: json.RawMessage(args[1]),
	})
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s/%s (queued for sync)\n", entity, rec.ID)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	entity := fieldsync.Entity(args[0])
	if !entity.IsValid() {
		return fmt.Errorf("unknown entity %q", args[0])
	}

	client, err := fieldsync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	if err := client.Remove(entity, args[1]); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s (queued for sync)\n", entity, args[1])
	return nil
}
