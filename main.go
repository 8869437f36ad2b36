package main

import "github.com/nmogil-tw/twilio-openai-conversations/cmd"

func main() {
	cmd.Execute()
}
