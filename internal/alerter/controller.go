package alerter

import (
	"github.com/sirupsen/logrus"

	"github.com/mattmezza/drowsy/internal/actuator"
)

// Controller tracks whether the alert for one face is on and forwards
// start/stop commands to the actuator. Both operations are idempotent.
type Controller struct {
	act    actuator.Actuator
	active bool
	log    *logrus.Entry
}

func NewController(act actuator.Actuator, log *logrus.Entry) *Controller {
	return &Controller{act: act, log: log}
}

func (c *Controller) Active() bool {
	return c.active
}

// Activate turns the alert on. It returns false if it already was.
// Actuator failures are logged; the alert is still considered active so
// that the matching Deactivate is issued later.
func (c *Controller) Activate(ev actuator.Event) bool {
	if c.active {
		return false
	}
	c.active = true
	if c.act == nil {
		return true
	}
	if err := c.act.Start(ev); err != nil {
		c.log.WithError(err).Error("failed to start alert")
	}
	return true
}

// Deactivate turns the alert off. It returns false if it already was.
func (c *Controller) Deactivate(ev actuator.Event) bool {
	if !c.active {
		return false
	}
	c.active = false
	if c.act == nil {
		return true
	}
	if err := c.act.Stop(ev); err != nil {
		c.log.WithError(err).Error("failed to stop alert")
	}
	return true
}
