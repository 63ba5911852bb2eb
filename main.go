package main

import "github.com/jmehdipour/outreach-mailer/cmd"

func main() {
	cmd.Execute()
}
