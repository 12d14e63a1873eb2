package email

const layoutStyle = `
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>`

const inviteHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.BoardName}} on {{.AppName}}</title>` + layoutStyle + `
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>You've been invited to {{.BoardName}}</h2>

    <p>{{.Inviter}} invited you to collaborate on the board <strong>{{.BoardName}}</strong>.</p>

    <p>
        <a href="{{.InviteURL}}" class="button">Accept Invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.InviteURL}}</p>

    <p>This invitation will expire in 24 hours.</p>

    <div class="footer">
        <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const assignmentHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New task on {{.BoardName}}</title>` + layoutStyle + `
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p>{{.Assigner}} assigned you the task <strong>{{.TaskTitle}}</strong> on <strong>{{.BoardName}}</strong>.</p>

    <p>
        <a href="{{.TaskURL}}" class="button">Open Task</a>
    </p>

    <div class="footer">
        <p>You are receiving this because you are a member of {{.BoardName}}.</p>
    </div>
</body>
</html>`

const deadlineHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.TaskTitle}} deadline</title>` + layoutStyle + `
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    {{if .Overdue}}
    <div class="warning">
        <strong>{{.TaskTitle}}</strong> was due {{.Deadline}} and is still open.
    </div>
    {{else}}
    <p>Your task <strong>{{.TaskTitle}}</strong> is due {{.Deadline}}.</p>
    {{end}}

    <p>
        <a href="{{.TaskURL}}" class="button">Open Task</a>
    </p>
</body>
</html>`
