package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeySpace       = " "
	KeyRecord      = "r"
	KeyPanel       = "p"
	KeyPanelUpper  = "P"
	KeyTab         = "tab"
	KeyEsc         = "esc"
	KeyEnter       = "enter"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyJ           = "j"
	KeyK           = "k"
	KeyTranscript  = "t"
	KeyTranscriptU = "T"
)
