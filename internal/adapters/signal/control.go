package signal

func (ctl *SignalWSController) handlePing(c *wsSignalConn) {
	ctl.Orch.Pong(c.id)
}
