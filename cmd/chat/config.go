package main

import "campus-live/internal"

// Config adds the terminal-client knobs on top of the core settings.
type Config struct {
	internal.Config
	Token        string `env:"CAMPUS_TOKEN,required=true"`
	Conversation string `env:"CAMPUS_CONVERSATION,required=true"`
}
