package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// at the next call.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PersonaChanged bool
	VoiceChanged   bool
	NewVoice       string

	// RestartRequired lists changed sections that only apply after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Persona.Instructions != new.Persona.Instructions {
		d.PersonaChanged = true
	}
	if old.Gemini.Voice != new.Gemini.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Gemini.Voice
	}

	oldGemini, newGemini := old.Gemini, new.Gemini
	oldGemini.Voice, newGemini.Voice = "", ""
	if oldGemini != newGemini {
		d.RestartRequired = append(d.RestartRequired, "gemini")
	}
	oldPersona, newPersona := old.Persona, new.Persona
	oldPersona.Instructions, newPersona.Instructions = "", ""
	if oldPersona != newPersona {
		d.RestartRequired = append(d.RestartRequired, "persona")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	return d
}
