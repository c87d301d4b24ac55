package api

import (
	"github.com/robofleet/resmux/internal/broker/engine"
	"github.com/robofleet/resmux/internal/broker/model"
)

func engineRegistration(req registrationRequest) engine.RegistrationInput {
	return engine.RegistrationInput{
		BldgID:      req.BldgID,
		ResourceID:  req.ResourceID,
		RobotID:     req.RobotID,
		TimeoutMS:   *req.Timeout,
		TimestampMS: req.Timestamp,
		RequestID:   req.RequestID,
	}
}

func engineRelease(req releaseRequest) engine.ReleaseInput {
	return engine.ReleaseInput{
		BldgID:     req.BldgID,
		ResourceID: req.ResourceID,
		RobotID:    req.RobotID,
		RequestID:  req.RequestID,
	}
}

func engineStatus(req resourceStatusRequest) engine.StatusInput {
	return engine.StatusInput{
		BldgID:     req.BldgID,
		ResourceID: req.ResourceID,
		RequestID:  req.RequestID,
	}
}

func engineRobotStatus(req robotStatusRequest) engine.RobotStatusInput {
	in := engine.RobotStatusInput{
		RobotID:    req.RobotID,
		ResourceID: req.ResourceID,
		State:      model.RobotState(*req.State),
		RequestID:  req.RequestID,
	}
	if req.StateDetail != nil {
		in.StateDetail = model.RobotStateDetail(*req.StateDetail)
	}
	return in
}
