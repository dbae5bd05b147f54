package notify

import (
	"kull-server/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(NewBus),
	fx.Provide(NewGateway),
	fx.Invoke(registerAdapters),
)

type registerAdaptersParams struct {
	fx.In

	Config  *config.Config
	Gateway *Gateway
}

func registerAdapters(p registerAdaptersParams) {
	p.Gateway.Register(ChannelDesktop, NewDesktopAdapter(nil))

	// Without APNs credentials the mobile adapter runs in simulation mode
	// and only logs.
	if p.Config.APNs.KeyPath == "" || p.Config.APNs.KeyID == "" || p.Config.APNs.TeamID == "" {
		zap.L().Warn("apns credentials missing, mobile pushes run in simulation mode")
	}
	p.Gateway.Register(ChannelMobile, NewMobileAdapter(nil, p.Config.APNs.BundleID))

	smtpCfg := p.Config.SMTP
	p.Gateway.Register(ChannelEmail, NewEmailAdapter(func() (EmailSender, error) {
		return &SMTPSender{
			Host:     smtpCfg.Host,
			Port:     smtpCfg.Port,
			User:     smtpCfg.User,
			Password: smtpCfg.Password,
			From:     smtpCfg.From,
		}, nil
	}))
}
