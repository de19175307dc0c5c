package pipeline

// LimitedOpener ends every source it opens early: after MaxFrames frames
// (when positive) or once Stop is closed. Either way the source reports
// ErrEndOfStream, so the run completes normally on the frames read so far.
// The camera input uses it to turn an interrupt into the end of the stream.
type LimitedOpener struct {
	Opener    Opener
	MaxFrames int
	Stop      <-chan struct{}
}

func (o LimitedOpener) Open(input string) (Source, error) {
	src, err := o.Opener.Open(input)
	if err != nil {
		return nil, err
	}
	return &limitedSource{Source: src, max: o.MaxFrames, stop: o.Stop}, nil
}

type limitedSource struct {
	Source
	max  int
	stop <-chan struct{}
	read int
}

func (s *limitedSource) Read() (Frame, error) {
	if s.max > 0 && s.read >= s.max {
		return nil, ErrEndOfStream
	}
	select {
	case <-s.stop:
		return nil, ErrEndOfStream
	default:
	}

	f, err := s.Source.Read()
	if err != nil {
		return nil, err
	}
	s.read++
	return f, nil
}
