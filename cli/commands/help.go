package commands

import "github.com/mitchellh/cli"

// section is a placeholder command for a group of subcommands, such as
// "asset", so that running it alone prints the group's help.
type section struct {
	name string
	desc string
}

var _ cli.Command = &section{}

func Section(name, desc string) cli.Command {
	return &section{name: name, desc: desc}
}

func (s *section) Help() string {
	return "Usage: studio " + s.name + " <subcommand> [options]\n\n" + s.desc
}

func (s *section) Synopsis() string {
	return s.desc
}

func (s *section) Run(args []string) int {
	return cli.RunResultHelp
}
