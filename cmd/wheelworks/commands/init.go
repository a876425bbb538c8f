package commands

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/wheelworks/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing files"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}
	workflowPath := filepath.Join(filepath.Dir(root.Config), filepath.FromSlash(config.DefaultWorkflowPath))
	fmt.Printf("wrote %s\n", root.Config)
	fmt.Printf("wrote %s\n", workflowPath)
	fmt.Println("Edit the repository URL in the config, then try: wheelworks run " + workflowPath)
	return nil
}
