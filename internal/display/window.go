package display

import "gocv.io/x/gocv"

const quitKey = 'q'

// Window shows rendered frames until the user presses q.
type Window struct {
	win *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show displays img and polls the keyboard. It returns false once the user
// asked to quit.
func (w *Window) Show(img gocv.Mat) bool {
	w.win.IMShow(img)
	key := w.win.WaitKey(1)
	return key&0xff != quitKey
}

func (w *Window) Close() error {
	return w.win.Close()
}
