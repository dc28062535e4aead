package email

const releasesTemplate = `
<!DOCTYPE html>
<html>

<head>
  <title></title>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style type="text/css">
    p {
      color: #111111;
      font-family: 'Helvetica', 'Arial', sans-serif;
    }
    table,
    td {
      font-size: 14px;
    }
    table {
      border-collapse: collapse !important;
    }
    body {
      margin: 0 !important;
      padding: 0 !important;
      width: 100% !important;
    }
  </style>
</head>
<body style="background-color: #f4f4f4;">
  <table border="0" cellpadding="0" cellspacing="0" width="100%">
    <tr>
      <td bgcolor="#24292e" align="center">
        <table border="0" cellpadding="0" cellspacing="0" width="100%" style="max-width: 600px;">
          <tr>
            <td align="center" valign="top" style="padding: 0px 10px 0px 10px;">
              <p style="color: white; font-size:20pt">New versions</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
    <tr>
      <td bgcolor="#f4f4f4" align="center" style="padding: 0px 10px 0px 10px;">
        <table border="0" cellpadding="0" cellspacing="0" width="100%" style="max-width: 600px;">
          <tr>
            <td bgcolor="#ffffff" align="left" style="padding: 30px 30px 0px 30px; font-size: 16px;">
              <p>{{ .EventsCount }} new versions were published in the watched repositories.</p>
            </td>
          </tr>
          {{ range .Repos }}
          <tr>
            <td bgcolor="#ffffff" align="left" style="padding: 30px 30px 10px 30px;">
              <a style="color: #0366d6; font-size: 22px;" href="{{ .URL }}">{{ .Label }}</a> <span style="color: #586069;">{{ .Key }}</span>
              <hr align="center" size="1" color="#111111" />
            </td>
          </tr>
          {{ range .Items }}
          <tr>
            <td bgcolor="#ffffff" align="left" style="padding: 0px 30px 0px 30px; font-size: 14px;">
              <p>{{ .Body }} <span style="font-size: 12px; color: #586069;">({{ .Time.Format "15:04:05 02.01.2006" }})</span></p>
            </td>
          </tr>
          {{ end }}
          {{ end }}
          <tr>
            <td bgcolor="#ffffff" align="left" style="padding: 20px 30px 20px 30px; font-size: 12px;">
              <p style="margin: 0;">Sent by releasewatch</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`
