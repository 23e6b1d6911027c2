package authcode

// pageTemplate is the shell shared by every page served by the redirect listener.
// {{TITLE}} and {{BODY}} are replaced before writing.
const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{TITLE}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Ubuntu, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f5f7;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 480px;
        }
        h1 { font-size: 1.4rem; color: #1f2937; }
        p { color: #4b5563; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{TITLE}}</h1>
        <p>{{BODY}}</p>
    </div>
</body>
</html>`

const (
	successTitle = "Authorization received"
	successBody  = "You can close this window and return to your terminal."

	deniedTitle = "Authorization was not granted"
	deniedBody  = "The provider reported an error. Details are shown in your terminal."

	malformedTitle = "Unexpected request"
	malformedBody  = "This address only accepts the redirect from your identity provider."

	closedTitle = "Already completed"
	closedBody  = "This sign-in attempt has already received its redirect."
)
