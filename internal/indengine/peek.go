package indengine

import (
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/stream"
)

// peek previews s with a forming bar and fans the preview out. The stream's
// latest update is left alone.
func (svc *Service) peek(s *stream.Stream, b model.Bar) (stream.Update, error) {
	u, err := s.Peek(b)
	if err != nil {
		svc.log.Debug("peek failed", "stream", s.ID(), "error", err)
		return u, err
	}
	svc.emit(u)
	return u, nil
}
